package main

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"go.dedis.ch/elector/cli"
	"go.dedis.ch/elector/coordinator"
	"go.dedis.ch/elector/types"
)

func (a app) setCandidateCommands(builder cli.Builder) {
	cmd := builder.SetCommand("candidate")
	cmd.SetDescription("manage the candidates")

	sub := cmd.SetSubCommand("add")
	sub.SetDescription("add a candidate to an election")
	sub.SetFlags(idFlag, adminFlag,
		cli.StringFlag{
			Name:     "name",
			Usage:    "name of the candidate",
			Required: true,
		},
		cli.StringFlag{
			Name:  "details",
			Usage: "content address of the details of the candidate",
		},
	)
	sub.SetAction(a.withNode(a.addCandidate))
}

func (a app) setVoterCommands(builder cli.Builder) {
	cmd := builder.SetCommand("voter")
	cmd.SetDescription("manage the voter registrations")

	sub := cmd.SetSubCommand("register")
	sub.SetDescription("register a voter to an election")
	sub.SetFlags(idFlag, voterFlag, cli.StringFlag{
		Name:  "data",
		Usage: "verification data kept with the registration",
	})
	sub.SetAction(a.withNode(a.register))

	decisions := []struct {
		name  string
		usage string
		fn    decideFn
	}{
		{"approve", "approve a registration", (*coordinator.Coordinator).ApproveVoter},
		{"reject", "reject a registration", (*coordinator.Coordinator).RejectVoter},
		{"blacklist", "reject a registration for good", (*coordinator.Coordinator).BlacklistVoter},
	}

	for _, decision := range decisions {
		sub = cmd.SetSubCommand(decision.name)
		sub.SetDescription(decision.usage)
		sub.SetFlags(idFlag, adminFlag, voterFlag)
		sub.SetAction(a.withNode(a.decide(decision.fn)))
	}

	sub = cmd.SetSubCommand("list")
	sub.SetDescription("list the registrations of an election")
	sub.SetFlags(idFlag)
	sub.SetAction(a.withNode(a.listRegistrations))

	sub = cmd.SetSubCommand("check")
	sub.SetDescription("check the eligibility of voters")
	sub.SetFlags(idFlag, cli.StringSliceFlag{
		Name:     "voter",
		Usage:    "address of a voter",
		Required: true,
	})
	sub.SetAction(a.withNode(a.check))
}

func (a app) addCandidate(n *node, flags cli.Flags) error {
	id, admin, err := parseAdminFlags(flags)
	if err != nil {
		return err
	}

	spec := types.CandidateSpec{
		Name:       flags.String("name"),
		DetailsRef: flags.String("details"),
	}

	candidate, err := n.coord.AddCandidate(a.ctx, id, admin, spec)
	if err != nil {
		return err
	}

	return a.print(candidate)
}

func (a app) register(n *node, flags cli.Flags) error {
	id, voter, err := parseVoterFlags(flags)
	if err != nil {
		return err
	}

	var data []byte
	if flags.String("data") != "" {
		data = []byte(flags.String("data"))
	}

	reg, err := n.coord.RegisterVoter(a.ctx, id, voter, data)
	if err != nil {
		return err
	}

	return a.print(reg)
}

type decideFn func(c *coordinator.Coordinator, ctx context.Context, id types.ElectionID,
	admin, voter common.Address) (types.VoterRegistration, error)

func (a app) decide(fn decideFn) nodeAction {
	return func(n *node, flags cli.Flags) error {
		id, admin, err := parseAdminFlags(flags)
		if err != nil {
			return err
		}

		voter, err := types.ParseIdentity(flags.String("voter"))
		if err != nil {
			return err
		}

		reg, err := fn(n.coord, a.ctx, id, admin, voter)
		if err != nil {
			return err
		}

		return a.print(reg)
	}
}

func (a app) listRegistrations(n *node, flags cli.Flags) error {
	id, err := parseID(flags)
	if err != nil {
		return err
	}

	regs, err := n.coord.ListRegistrations(a.ctx, id)
	if err != nil {
		return err
	}

	return a.print(regs)
}

func (a app) check(n *node, flags cli.Flags) error {
	id, err := parseID(flags)
	if err != nil {
		return err
	}

	voters := make([]common.Address, 0, len(flags.StringSlice("voter")))

	for _, text := range flags.StringSlice("voter") {
		voter, err := types.ParseIdentity(text)
		if err != nil {
			return err
		}

		voters = append(voters, voter)
	}

	results, err := n.coord.CheckEligibilities(a.ctx, id, voters)
	if err != nil {
		return err
	}

	return a.print(results)
}
