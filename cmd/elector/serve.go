package main

import (
	"go.dedis.ch/elector"
	"go.dedis.ch/elector/api"
	"go.dedis.ch/elector/cli"
	ledgerhttp "go.dedis.ch/elector/ledger/http"
	"go.dedis.ch/elector/ledger/native"
	"go.dedis.ch/elector/proxy"
	proxyhttp "go.dedis.ch/elector/proxy/http"
	"golang.org/x/xerrors"
)

func (a app) setServeCommands(builder cli.Builder) {
	listen := cli.StringFlag{
		Name:  "listen",
		Usage: "address of the HTTP server (default: from the configuration)",
	}

	metrics := cli.StringFlag{
		Name:  "metrics",
		Usage: "path of the prometheus handler, disabled when empty",
	}

	cmd := builder.SetCommand("serve")
	cmd.SetDescription("serve the coordinator API over HTTP")
	cmd.SetFlags(listen, metrics)
	cmd.SetAction(a.withNode(a.serve))

	cmd = builder.SetCommand("ledger")
	cmd.SetDescription("manage the local ledger")

	sub := cmd.SetSubCommand("serve")
	sub.SetDescription("serve the local ledger to remote coordinators")
	sub.SetFlags(listen, metrics)
	sub.SetAction(a.serveLedger)

	sub = cmd.SetSubCommand("tx")
	sub.SetDescription("show a transaction of the local ledger")
	sub.SetFlags(cli.StringFlag{
		Name:     "tx",
		Usage:    "identifier of the transaction",
		Required: true,
	})
	sub.SetAction(a.showTransaction)
}

func (a app) serve(n *node, flags cli.Flags) error {
	listen := n.cfg.Listen
	if flags.String("listen") != "" {
		listen = flags.String("listen")
	}

	srv := proxyhttp.NewHTTP(listen)

	api.NewService(n.coord).Register(srv)

	return a.listen(srv, n.cfg.Metrics, flags)
}

func (a app) serveLedger(flags cli.Flags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	db, err := openDB(cfg.DataDir, ledgerFile)
	if err != nil {
		return err
	}

	defer db.Close()

	l := native.NewLedger(db, native.WithCapabilities(cfg.Ledger.Capabilities))

	go logTransactions(a, l)

	listen := cfg.Listen
	if flags.String("listen") != "" {
		listen = flags.String("listen")
	}

	srv := proxyhttp.NewHTTP(listen)

	ledgerhttp.NewService(l, makeTracer(cfg, ledgerhttp.ServiceName)).Register(srv)

	return a.listen(srv, cfg.Metrics, flags)
}

func (a app) showTransaction(flags cli.Flags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	db, err := openDB(cfg.DataDir, ledgerFile)
	if err != nil {
		return err
	}

	defer db.Close()

	entry, err := native.NewLedger(db).Entry(a.ctx, flags.String("tx"))
	if err != nil {
		return err
	}

	return a.print(entry)
}

// listen runs the server until the context of the application is done.
func (a app) listen(srv proxy.Proxy, metricsPath string, flags cli.Flags) error {
	if flags.String("metrics") != "" {
		metricsPath = flags.String("metrics")
	}

	if metricsPath != "" {
		err := proxyhttp.RegisterPrometheus(srv, metricsPath)
		if err != nil {
			return xerrors.Errorf("failed to register metrics: %v", err)
		}
	}

	done := make(chan struct{})

	go func() {
		srv.Listen()
		close(done)
	}()

	select {
	case <-a.ctx.Done():
		srv.Stop()
		<-done
	case <-done:
		return xerrors.New("server stopped unexpectedly")
	}

	return nil
}

func logTransactions(a app, l *native.Ledger) {
	logger := elector.Logger.With().Str("component", "ledger service").Logger()

	for evt := range l.Watch(a.ctx) {
		logger.Info().
			Str("tx", evt.Receipt.TxID).
			Str("command", string(evt.Call.Command())).
			Bool("accepted", evt.Receipt.Accepted).
			Str("message", evt.Receipt.Message).
			Msg("transaction")
	}
}
