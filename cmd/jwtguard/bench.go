package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/osvaldoandrade/jwtguard/pkg/token"
)

func benchCmd(g *globals, ui *ui) *cobra.Command {
	var (
		tokenType   string
		count       int
		concurrency int
	)
	cmd := &cobra.Command{
		Use:     "bench [token|-]",
		Short:   "Validate one token repeatedly and report stage latencies",
		Example: "jwtguard bench --config jwtguard.yaml --count 5000 --concurrency 8 -",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 || concurrency <= 0 {
				return errors.New("count and concurrency must be positive")
			}
			typ, ok := token.ParseType(tokenType)
			if !ok {
				return fmt.Errorf("unknown token type %q (access, id, refresh)", tokenType)
			}
			raw, err := readToken(args, os.Stdin, stdinIsTerminal())
			if err != nil {
				return err
			}
			v, err := g.newValidator()
			if err != nil {
				return err
			}
			defer v.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			// Warm the issuer and its keys so the run measures steady state.
			if _, err := v.Validate(ctx, typ, raw); err != nil {
				event, _ := token.EventOf(err)
				return fmt.Errorf("token does not validate: %s", event)
			}
			v.Monitor().Reset()
			v.Counter().ResetAll()

			bar := progressbar.NewOptions(count,
				progressbar.OptionSetDescription("Validating"),
				progressbar.OptionSetWidth(24),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionClearOnFinish(),
			)

			var (
				next     atomic.Int64
				rejected atomic.Int64
				wg       sync.WaitGroup
			)
			start := time.Now()
			for i := 0; i < concurrency; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for next.Add(1) <= int64(count) {
						if _, err := v.Validate(ctx, typ, raw); err != nil {
							rejected.Add(1)
						}
						_ = bar.Add(1)
					}
				}()
			}
			wg.Wait()
			_ = bar.Finish()
			elapsed := time.Since(start)

			fmt.Printf("%s %d validations in %s (%.0f/s), %d rejected\n",
				ui.ok("[DONE]"), count, elapsed.Round(time.Millisecond), float64(count)/elapsed.Seconds(), rejected.Load())
			fmt.Printf("  %-26s %8s %10s %10s %10s %10s\n", "stage", "samples", "avg", "p50", "p95", "p99")
			for _, st := range v.Monitor().AllStats() {
				if st.Count == 0 {
					continue
				}
				fmt.Printf("  %-26s %8d %10s %10s %10s %10s\n", ui.info(st.Type.String()), st.Samples,
					st.Average, st.P50, st.P95, st.P99)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tokenType, "type", "access", "Token type: access|id|refresh")
	cmd.Flags().IntVar(&count, "count", 1000, "Number of validations")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Concurrent validating goroutines")
	return cmd
}
