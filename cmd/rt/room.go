package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zulandar/roundtable/internal/replica"
	"github.com/zulandar/roundtable/internal/room"
	"github.com/zulandar/roundtable/internal/store"
	"github.com/zulandar/roundtable/internal/turn"
)

func newRoomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room",
		Short: "Room commands",
	}

	cmd.AddCommand(newRoomCreateCmd())
	cmd.AddCommand(newRoomListCmd())
	cmd.AddCommand(newRoomShowCmd())
	cmd.AddCommand(newRoomSignalCmd())
	cmd.AddCommand(newRoomCancelCmd())
	cmd.AddCommand(newRoomResumeCmd())
	cmd.AddCommand(newRoomSayCmd())
	cmd.AddCommand(newRoomTurnCmd("yield", "Pass your turn without speaking",
		func(ctx context.Context, c *turn.Coordinator) (room.Snapshot, error) { return c.YieldTurn(ctx) }))
	cmd.AddCommand(newRoomTurnCmd("agent", "Ask the agent again when the turn is parked on it",
		func(ctx context.Context, c *turn.Coordinator) (room.Snapshot, error) { return c.InvokeAgent(ctx) }))
	cmd.AddCommand(newRoomParticipantCmd("raise", "Raise a participant's hand",
		func(ctx context.Context, c *turn.Coordinator, id room.ParticipantID) (room.Snapshot, error) {
			return c.RaiseHand(ctx, id)
		}))
	cmd.AddCommand(newRoomParticipantCmd("lower", "Lower a participant's hand",
		func(ctx context.Context, c *turn.Coordinator, id room.ParticipantID) (room.Snapshot, error) {
			return c.LowerHand(ctx, id)
		}))
	cmd.AddCommand(newRoomParticipantCmd("leave", "End the room because a participant left",
		func(ctx context.Context, c *turn.Coordinator, id room.ParticipantID) (room.Snapshot, error) {
			return c.Leave(ctx, id)
		}))
	cmd.AddCommand(newRoomParticipantCmd("decline", "End the room because a participant declined",
		func(ctx context.Context, c *turn.Coordinator, id room.ParticipantID) (room.Snapshot, error) {
			return c.Decline(ctx, id)
		}))
	cmd.AddCommand(newRoomTextCmd("narrate", "Add narration without moving the turn",
		func(ctx context.Context, c *turn.Coordinator, text string) (room.Snapshot, error) {
			return c.Narrate(ctx, text)
		}))
	cmd.AddCommand(newRoomTextCmd("close", "Lock the room with its closing text",
		func(ctx context.Context, c *turn.Coordinator, text string) (room.Snapshot, error) {
			return c.CloseRoom(ctx, text)
		}))
	cmd.AddCommand(newRoomLogCmd())
	cmd.AddCommand(newRoomSweepCmd())
	return cmd
}

// Seat ids handed out by room create.
const (
	hostSeat  = "host"
	agentSeat = "agent"
)

func newRoomCreateCmd() *cobra.Command {
	var (
		configPath string
		name       string
		agentName  string
		tier       string
		first      bool
		with       []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a room and run it up to the humans",
		Long: `Creates a room hosted by this device, with the agent and every --with seat.

Each --with value is KIND:VALUE=NICKNAME, where KIND is email, phone or
account, for example --with email:ren@example.com=Ren.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoomCreate(cmd, configPath, name, agentName, tier, first, with)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Roundtable config file")
	cmd.Flags().StringVar(&name, "name", "", "your nickname in the room (required)")
	cmd.Flags().StringVar(&agentName, "agent-name", "Sage", "the agent's nickname")
	cmd.Flags().StringVar(&tier, "tier", "standard", "room tier (basic, standard, premium)")
	cmd.Flags().BoolVar(&first, "first", false, "mark as the host's first room")
	cmd.Flags().StringArrayVar(&with, "with", nil, "invited seat as KIND:VALUE=NICKNAME (repeatable)")
	cmd.MarkFlagRequired("name")
	return cmd
}

func runRoomCreate(cmd *cobra.Command, configPath, name, agentName, tierName string, first bool, with []string) error {
	tier, err := room.ParseTier(tierName)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := loadApp(ctx, configPath)
	if err != nil {
		return err
	}

	spec, err := buildSpec(a.cfg.Device.Account, name, agentName, tier, first, with)
	if err != nil {
		return err
	}
	s, err := a.creator.Create(ctx, spec)
	if s.ID() != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Created room %s\n", s.ID())
		printRoom(cmd.OutOrStdout(), s, hostSeat)
	}
	return err
}

// buildSpec seats the host first, the agent second, then the guests in
// the order given.
func buildSpec(account, name, agentName string, tier room.Tier, first bool, with []string) (room.RoomSpec, error) {
	spec := room.RoomSpec{
		OriginatorID: hostSeat,
		Tier:         tier,
		IsFirstRoom:  first,
		Participants: []room.ParticipantSpec{
			{ID: hostSeat, Identifier: room.LocalAccount(account), Nickname: name},
			{ID: agentSeat, Identifier: room.Agent(), Nickname: agentName},
		},
	}
	for i, w := range with {
		p, err := parseSeat(w)
		if err != nil {
			return room.RoomSpec{}, err
		}
		p.ID = room.ParticipantID(fmt.Sprintf("guest-%d", i+1))
		spec.Participants = append(spec.Participants, p)
	}
	return spec, nil
}

// parseSeat parses KIND:VALUE=NICKNAME.
func parseSeat(s string) (room.ParticipantSpec, error) {
	ident, nick, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(nick) == "" {
		return room.ParticipantSpec{}, fmt.Errorf("seat %q: want KIND:VALUE=NICKNAME", s)
	}
	kind, value, ok := strings.Cut(ident, ":")
	if !ok || strings.TrimSpace(value) == "" {
		return room.ParticipantSpec{}, fmt.Errorf("seat %q: want KIND:VALUE=NICKNAME", s)
	}
	var id room.Identifier
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "email":
		id = room.Email(strings.TrimSpace(value))
	case "phone":
		id = room.Phone(strings.TrimSpace(value))
	case "account":
		id = room.LocalAccount(strings.TrimSpace(value))
	default:
		return room.ParticipantSpec{}, fmt.Errorf("seat %q: unknown kind %q (email, phone, account)", s, kind)
	}
	return room.ParticipantSpec{Identifier: id, Nickname: strings.TrimSpace(nick)}, nil
}

func newRoomListCmd() *cobra.Command {
	var (
		configPath string
		state      string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rooms",
		Long:  "Lists rooms in the database, optionally filtered by state. Output is formatted as a table.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoomList(cmd, configPath, state)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Roundtable config file")
	cmd.Flags().StringVar(&state, "state", "", "filter by state (e.g. active, pending_humans)")
	return cmd
}

func runRoomList(cmd *cobra.Command, configPath, state string) error {
	ctx := context.Background()
	a, err := loadApp(ctx, configPath)
	if err != nil {
		return err
	}
	var q store.Query
	if state != "" {
		q.States = []room.StateKind{room.StateKind(state)}
	}
	rooms, err := a.rooms.List(ctx, q)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(rooms) == 0 {
		fmt.Fprintln(out, "No rooms found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tTIER\tSEATS\tMESSAGES\tMODIFIED")
	for _, s := range rooms {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			s.ID(), s.Lifecycle.State.Kind(), s.Lifecycle.Spec.Tier,
			len(s.Participants), len(s.Messages), s.Lifecycle.ModifiedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func newRoomShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <room-id>",
		Short: "Show a room and its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx, configPath)
			if err != nil {
				return err
			}
			s, err := a.store.Load(ctx, args[0])
			if err != nil {
				return err
			}
			local, _ := a.hub.LocalParticipant(s)
			printRoom(cmd.OutOrStdout(), s, local)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Roundtable config file")
	return cmd
}

func newRoomSignalCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "signal <room-id> [participant-id]",
		Short: "Signal that a human is here",
		Long:  "Records that a human seat has arrived. Defaults to this device's seat. The last arrival captures payment and starts the room.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx, configPath)
			if err != nil {
				return err
			}
			var id room.ParticipantID
			if len(args) == 2 {
				id = room.ParticipantID(args[1])
			} else {
				s, err := a.store.Load(ctx, args[0])
				if err != nil {
					return err
				}
				if id, err = a.hub.LocalParticipant(s); err != nil {
					return err
				}
			}
			s, err := a.creator.SignalHere(ctx, args[0], id)
			if s.ID() != "" {
				printRoom(cmd.OutOrStdout(), s, id)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Roundtable config file")
	return cmd
}

func newRoomCancelCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cancel <room-id>",
		Short: "Abandon a room that has not started",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx, configPath)
			if err != nil {
				return err
			}
			s, err := a.creator.Cancel(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Room %s is %s\n", s.ID(), describeState(s))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Roundtable config file")
	return cmd
}

func newRoomResumeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "resume <room-id>",
		Short: "Continue creating a room after a network failure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx, configPath)
			if err != nil {
				return err
			}
			s, err := a.creator.Run(ctx, args[0])
			if s.ID() != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Room %s is %s\n", s.ID(), describeState(s))
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Roundtable config file")
	return cmd
}

func newRoomSayCmd() *cobra.Command {
	var (
		configPath string
		as         string
	)

	cmd := &cobra.Command{
		Use:   "say <room-id> [text...]",
		Short: "Speak on your turn",
		Long: `Sends a message on your turn. If the turn moves to the agent, its reply is
streamed before the command returns.

Without text, the message is read from stdin: a prompt is shown when stdin
is a terminal.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args[1:], " "))
			if text == "" {
				var err error
				if text, err = readMessage(cmd); err != nil {
					return err
				}
			}
			if text == "" {
				return fmt.Errorf("message is empty")
			}
			return runLive(cmd, configPath, args[0], func(ctx context.Context, a *app, c *turn.Coordinator) (room.Snapshot, error) {
				author := room.ParticipantID(as)
				if author == "" {
					id, err := a.hub.LocalParticipant(c.Snapshot())
					if err != nil {
						return c.Snapshot(), err
					}
					author = id
				}
				stop := streamTo(a, cmd.OutOrStdout(), c.RoomID())
				defer stop()
				return c.SendMessage(ctx, author, text)
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Roundtable config file")
	cmd.Flags().StringVar(&as, "as", "", "speak as this participant id (defaults to this device's seat)")
	return cmd
}

// readMessage reads a message from stdin, prompting on a terminal.
func readMessage(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.OutOrStdout(), "> ")
		scanner := bufio.NewScanner(f)
		if scanner.Scan() {
			return strings.TrimSpace(scanner.Text()), nil
		}
		return "", scanner.Err()
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read message: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// streamTo prints the agent's streamed output for roomID until the
// returned func is called.
func streamTo(a *app, out io.Writer, roomID string) func() {
	ch, unsubscribe := a.stream.Subscribe(roomID)
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for {
			select {
			case chunk := <-ch:
				fmt.Fprint(out, chunk)
			case <-done:
				for {
					select {
					case chunk := <-ch:
						fmt.Fprint(out, chunk)
					default:
						return
					}
				}
			}
		}
	}()
	return func() {
		unsubscribe()
		close(done)
		<-finished
	}
}

func newRoomTurnCmd(use, short string, op func(ctx context.Context, c *turn.Coordinator) (room.Snapshot, error)) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   use + " <room-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLive(cmd, configPath, args[0], func(ctx context.Context, a *app, c *turn.Coordinator) (room.Snapshot, error) {
				stop := streamTo(a, cmd.OutOrStdout(), c.RoomID())
				defer stop()
				return op(ctx, c)
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Roundtable config file")
	return cmd
}

func newRoomParticipantCmd(use, short string, op func(ctx context.Context, c *turn.Coordinator, id room.ParticipantID) (room.Snapshot, error)) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   use + " <room-id> [participant-id]",
		Short: short,
		Long:  short + ". Defaults to this device's seat.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLive(cmd, configPath, args[0], func(ctx context.Context, a *app, c *turn.Coordinator) (room.Snapshot, error) {
				var id room.ParticipantID
				if len(args) == 2 {
					id = room.ParticipantID(args[1])
				} else {
					local, err := a.hub.LocalParticipant(c.Snapshot())
					if err != nil {
						return c.Snapshot(), err
					}
					id = local
				}
				return op(ctx, c, id)
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Roundtable config file")
	return cmd
}

func newRoomTextCmd(use, short string, op func(ctx context.Context, c *turn.Coordinator, text string) (room.Snapshot, error)) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   use + " <room-id> <text...>",
		Short: short,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args[1:], " ")
			return runLive(cmd, configPath, args[0], func(ctx context.Context, _ *app, c *turn.Coordinator) (room.Snapshot, error) {
				return op(ctx, c, text)
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Roundtable config file")
	return cmd
}

// runLive loads roomID into the hub and runs op against its coordinator,
// printing the room afterwards.
func runLive(cmd *cobra.Command, configPath, roomID string, op func(ctx context.Context, a *app, c *turn.Coordinator) (room.Snapshot, error)) error {
	ctx := context.Background()
	a, err := loadApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.hub.Close()

	c, err := a.hub.Coordinator(ctx, roomID)
	if err != nil {
		return err
	}
	s, err := op(ctx, a, c)
	if s.ID() != "" {
		local, _ := a.hub.LocalParticipant(s)
		printRoom(cmd.OutOrStdout(), s, local)
	}
	return err
}

func newRoomLogCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "log <room-id>",
		Short: "Show the agent calls made for a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx, configPath)
			if err != nil {
				return err
			}
			entries, err := a.logs.ForRoom(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No agent calls recorded.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tPURPOSE\tDIR\tLATENCY\tCONTENT")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%dms\t%s\n",
					e.CreatedAt.Format("15:04:05"), e.Purpose, e.Direction, e.LatencyMs, firstLine(e.Content, 60))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Roundtable config file")
	return cmd
}

func newRoomSweepCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale rooms, cancel stalled ones and settle leftover holds once",
		Long:  "Runs one expiry sweep now instead of waiting for the serve schedule.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx, configPath)
			if err != nil {
				return err
			}
			sweeper, err := replica.NewSweeper(replica.SweeperOpts{
				Rooms: a.rooms,
				Ender: a.creator,
				TTL:   a.cfg.Rooms.InviteTTL(),
			})
			if err != nil {
				return err
			}
			res, err := sweeper.Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Expired %d room(s), abandoned %d stalled room(s), settled %d hold(s)\n",
				res.Expired, res.Abandoned, res.Settled)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Roundtable config file")
	return cmd
}
