package main

import (
	"context"
	"time"

	"go.dedis.ch/elector/cli"
	"go.dedis.ch/elector/types"
)

func (a app) setElectionCommands(builder cli.Builder) {
	cmd := builder.SetCommand("election")
	cmd.SetDescription("manage the elections")

	sub := cmd.SetSubCommand("list")
	sub.SetDescription("list the elections")
	sub.SetAction(a.withNode(a.listElections))

	sub = cmd.SetSubCommand("show")
	sub.SetDescription("show an election")
	sub.SetFlags(idFlag, cli.BoolFlag{
		Name:  "description",
		Usage: "show the description instead of the election",
	})
	sub.SetAction(a.withNode(a.showElection))

	sub = cmd.SetSubCommand("create")
	sub.SetDescription("create an election")
	sub.SetFlags(
		adminFlag,
		cli.StringFlag{
			Name:     "title",
			Usage:    "title of the election",
			Required: true,
		},
		cli.StringFlag{
			Name:  "description",
			Usage: "description stored in the content store",
		},
		cli.StringFlag{
			Name:  "registration-start",
			Usage: "start of the registrations, as RFC 3339 or a duration from now",
		},
		cli.StringFlag{
			Name:     "voting-start",
			Usage:    "start of the votes, as RFC 3339 or a duration from now",
			Required: true,
		},
		cli.StringFlag{
			Name:     "voting-end",
			Usage:    "end of the votes, as RFC 3339 or a duration from now",
			Required: true,
		},
		cli.BoolFlag{
			Name:  "require-registration",
			Usage: "only approved voters can vote",
		},
		cli.StringSliceFlag{
			Name:  "candidate",
			Usage: "name of an initial candidate",
		},
	)
	sub.SetAction(a.withNode(a.createElection))

	sub = cmd.SetSubCommand("advance")
	sub.SetDescription("move an election to the next status")
	sub.SetFlags(idFlag, adminFlag, cli.StringFlag{
		Name:     "status",
		Usage:    "registration, active or ended",
		Required: true,
	})
	sub.SetAction(a.withNode(a.advance))

	sub = cmd.SetSubCommand("results")
	sub.SetDescription("show the tally of an election")
	sub.SetFlags(idFlag)
	sub.SetAction(a.withNode(a.results))

	sub = cmd.SetSubCommand("finalize")
	sub.SetDescription("record the winner of an ended election")
	sub.SetFlags(idFlag, adminFlag)
	sub.SetAction(a.withNode(a.finalize))

	sub = cmd.SetSubCommand("watch")
	sub.SetDescription("print the election every interval until it is finalized")
	sub.SetFlags(idFlag,
		cli.DurationFlag{
			Name:  "interval",
			Usage: "time between two updates",
			Value: 10 * time.Second,
		},
		cli.IntFlag{
			Name:  "count",
			Usage: "number of updates to print, unlimited when zero",
		},
	)
	sub.SetAction(a.withNode(a.watch))
}

func (a app) listElections(n *node, flags cli.Flags) error {
	views, err := n.coord.ListElections(a.ctx)
	if err != nil {
		return err
	}

	return a.print(views)
}

func (a app) showElection(n *node, flags cli.Flags) error {
	id, err := parseID(flags)
	if err != nil {
		return err
	}

	if flags.Bool("description") {
		desc, err := n.coord.Description(a.ctx, id)
		if err != nil {
			return err
		}

		_, err = a.out.Write(append(desc, '\n'))
		return err
	}

	view, err := n.coord.GetElection(a.ctx, id)
	if err != nil {
		return err
	}

	return a.print(view)
}

func (a app) createElection(n *node, flags cli.Flags) error {
	admin, err := types.ParseIdentity(flags.String("admin"))
	if err != nil {
		return err
	}

	now := time.Now()

	spec := types.ElectionSpec{
		Title:               flags.String("title"),
		RequireRegistration: flags.Bool("require-registration"),
	}

	spec.RegistrationStart, err = parseTime(flags.String("registration-start"), now)
	if err != nil {
		return err
	}

	spec.VotingStart, err = parseTime(flags.String("voting-start"), now)
	if err != nil {
		return err
	}

	spec.VotingEnd, err = parseTime(flags.String("voting-end"), now)
	if err != nil {
		return err
	}

	for _, name := range flags.StringSlice("candidate") {
		spec.Candidates = append(spec.Candidates, types.Candidate{Name: name})
	}

	view, err := n.coord.CreateElection(a.ctx, admin, spec, []byte(flags.String("description")))
	if err != nil {
		return err
	}

	return a.print(view)
}

func (a app) advance(n *node, flags cli.Flags) error {
	id, admin, err := parseAdminFlags(flags)
	if err != nil {
		return err
	}

	status, err := types.ParseStatus(flags.String("status"))
	if err != nil {
		return err
	}

	view, err := n.coord.Advance(a.ctx, id, admin, status)
	if err != nil {
		return err
	}

	return a.print(view)
}

func (a app) results(n *node, flags cli.Flags) error {
	id, err := parseID(flags)
	if err != nil {
		return err
	}

	res, err := n.coord.Results(a.ctx, id)
	if err != nil {
		return err
	}

	return a.print(res)
}

func (a app) finalize(n *node, flags cli.Flags) error {
	id, admin, err := parseAdminFlags(flags)
	if err != nil {
		return err
	}

	res, err := n.coord.Finalize(a.ctx, id, admin)
	if err != nil {
		return err
	}

	return a.print(res)
}

// watchOutput is an update printed by the watch command.
type watchOutput struct {
	Election  types.ElectionView  `json:"election"`
	Remaining string              `json:"remaining"`
	Error     *types.ErrorMessage `json:"error,omitempty"`
}

func (a app) watch(n *node, flags cli.Flags) error {
	id, err := parseID(flags)
	if err != nil {
		return err
	}

	interval := flags.Duration("interval")
	if interval <= 0 {
		return types.Validation("interval must be positive")
	}

	count := flags.Int("count")

	ctx, cancel := context.WithCancel(a.ctx)
	defer cancel()

	for update := range n.coord.Watch(ctx, id, interval) {
		out := watchOutput{
			Election:  update.Election,
			Remaining: update.Remaining.String(),
		}

		if update.Err != nil {
			msg := types.NewErrorMessage(update.Err)
			out.Error = &msg
		}

		err = a.print(out)
		if err != nil {
			return err
		}

		count--
		if count == 0 {
			return nil
		}
	}

	return nil
}
