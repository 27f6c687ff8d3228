package main

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.dedis.ch/elector"
	"go.dedis.ch/elector/cli"
	"go.dedis.ch/elector/cli/ucli"
	"go.dedis.ch/elector/types"
	"golang.org/x/xerrors"
)

// app holds what the actions share: the context of the process and the output
// of the results.
type app struct {
	ctx context.Context
	out io.Writer
}

func newApp(ctx context.Context, out io.Writer) cli.Application {
	a := app{ctx: ctx, out: out}

	builder := ucli.NewBuilder("elector", "coordinate elections recorded on a ledger", nil,
		cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "path to the configuration file (default: <data-dir>/elector.yaml)",
		},
		cli.StringFlag{
			Name:  "env",
			Usage: "path to an optional .env file",
			Value: ".env",
		},
		cli.StringFlag{
			Name:  "data-dir",
			Usage: "directory of the databases",
		},
		cli.StringFlag{
			Name:  "ledger-url",
			Usage: "url of a remote ledger service instead of the local ledger",
		},
		cli.StringFlag{
			Name:  "mode",
			Usage: "backend mode, live or read-only",
		},
	)

	a.setServeCommands(builder)
	a.setElectionCommands(builder)
	a.setCandidateCommands(builder)
	a.setVoterCommands(builder)

	cmd := builder.SetCommand("vote")
	cmd.SetDescription("cast a vote")
	cmd.SetFlags(idFlag, voterFlag, cli.IntFlag{
		Name:     "candidate",
		Usage:    "identifier of the candidate",
		Required: true,
	})
	cmd.SetAction(a.withNode(a.vote))

	return builder.Build()
}

var (
	idFlag = cli.IntFlag{
		Name:     "id",
		Aliases:  []string{"election"},
		Usage:    "identifier of the election",
		Required: true,
	}

	adminFlag = cli.StringFlag{
		Name:     "admin",
		Usage:    "address of the administrator",
		Required: true,
	}

	voterFlag = cli.StringFlag{
		Name:     "voter",
		Usage:    "address of the voter",
		Required: true,
	}
)

type nodeAction func(n *node, flags cli.Flags) error

// withNode opens the node before the action and closes it after.
func (a app) withNode(action nodeAction) cli.Action {
	return func(flags cli.Flags) error {
		n, err := openNode(a.ctx, flags)
		if err != nil {
			return err
		}

		defer func() {
			err := n.Close()
			if err != nil {
				elector.Logger.Warn().Err(err).Msg("failed to close node")
			}
		}()

		return action(n, flags)
	}
}

func (a app) print(v interface{}) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")

	err := enc.Encode(v)
	if err != nil {
		return xerrors.Errorf("failed to write output: %v", err)
	}

	return nil
}

func (a app) vote(n *node, flags cli.Flags) error {
	id, voter, err := parseVoterFlags(flags)
	if err != nil {
		return err
	}

	receipt, err := n.coord.CastVote(a.ctx, id, voter, types.CandidateID(flags.Int("candidate")))
	if err != nil {
		return err
	}

	return a.print(receipt)
}

func parseID(flags cli.Flags) (types.ElectionID, error) {
	id := flags.Int("id")
	if id <= 0 {
		return 0, types.Validation("invalid election id %d", id)
	}

	return types.ElectionID(id), nil
}

func parseVoterFlags(flags cli.Flags) (types.ElectionID, common.Address, error) {
	id, err := parseID(flags)
	if err != nil {
		return 0, common.Address{}, err
	}

	voter, err := types.ParseIdentity(flags.String("voter"))
	if err != nil {
		return 0, common.Address{}, err
	}

	return id, voter, nil
}

func parseAdminFlags(flags cli.Flags) (types.ElectionID, common.Address, error) {
	id, err := parseID(flags)
	if err != nil {
		return 0, common.Address{}, err
	}

	admin, err := types.ParseIdentity(flags.String("admin"))
	if err != nil {
		return 0, common.Address{}, err
	}

	return id, admin, nil
}

// parseTime reads either an RFC 3339 date or a duration relative to now. An
// empty text is the zero time.
func parseTime(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339, text)
	if err == nil {
		return t, nil
	}

	d, err := time.ParseDuration(text)
	if err != nil {
		return time.Time{}, types.Validation("invalid time '%s': expected RFC 3339 or a duration", text)
	}

	return now.Add(d), nil
}
