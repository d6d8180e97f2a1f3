package main

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"lead-board/tui"
	"lead-board/view"
)

var (
	tuiState string
	tuiLog   string
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Open the board in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		// The alternate screen owns stdout; logs go to a file or nowhere.
		var out io.Writer = io.Discard
		if tuiLog != "" {
			f, err := os.OpenFile(tuiLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		log.SetOutput(out)

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		go func() {
			if err := a.runFeed(ctx); err != nil {
				log.WithError(err).Error("feed stopped")
			}
		}()

		q, err := url.ParseQuery(strings.TrimPrefix(tuiState, "?"))
		if err != nil {
			return fmt.Errorf("--state: %w", err)
		}
		return tui.Run(ctx, a.store,
			tui.WithState(view.ParseState(q)),
			tui.WithReload(func() error { return a.reload(ctx) }),
		)
	},
}

func init() {
	tuiCmd.Flags().StringVar(&tuiState, "state", "", "initial view state as a query string, e.g. cidade=Curitiba&ordenacao=preco_menor")
	tuiCmd.Flags().StringVar(&tuiLog, "log-file", "", "write logs to this file while the board is open")
}
