package main

import (
	"context"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/osvaldoandrade/jwtguard/pkg/jwks"
)

func keysCmd(g *globals, ui *ui) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:     "keys",
		Short:   "List the keys each configured issuer currently serves",
		Example: "jwtguard keys --config jwtguard.yaml",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := g.newValidator()
			if err != nil {
				return err
			}
			defer v.Close()

			unhealthy := 0
			for _, ic := range v.Issuers() {
				loader := ic.Loader()
				ctx, cancel := context.WithTimeout(context.Background(), timeout)
				spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
				spin.Suffix = " Loading keys for " + ic.Issuer() + "..."
				spin.Start()
				status := loader.IsHealthy(ctx)
				keys := loader.Keys(ctx)
				spin.Stop()
				cancel()

				label := ui.ok(status.String())
				if status != jwks.StatusOK {
					label = ui.err(status.String())
					unhealthy++
				}
				fmt.Printf("%s %s %s\n", ui.title(ic.Issuer()), ui.dim("["+loader.Type().String()+"]"), label)
				if len(keys) == 0 {
					fmt.Println("  " + ui.warn("no keys"))
					continue
				}
				for _, k := range keys {
					fmt.Printf("  %-24s %-4s %-6s %s\n", k.KeyID, string(k.Type), emptyOr(k.Algorithm, "*"), ui.dim(keySize(k)))
				}
			}
			if unhealthy > 0 {
				return fmt.Errorf("%d issuer(s) not healthy", unhealthy)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Per issuer load timeout")
	return cmd
}

func keySize(k *jwks.KeyInfo) string {
	if bits := k.ModulusBits(); bits > 0 {
		return fmt.Sprintf("%d bits", bits)
	}
	if bits := k.CurveBits(); bits > 0 {
		return fmt.Sprintf("P-%d", bits)
	}
	return ""
}

func emptyOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
