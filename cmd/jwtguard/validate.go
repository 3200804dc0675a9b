package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/osvaldoandrade/jwtguard/pkg/token"
)

var errRejected = errors.New("token rejected")

func validateCmd(g *globals, ui *ui) *cobra.Command {
	var tokenType string
	cmd := &cobra.Command{
		Use:   "validate [token|-]",
		Short: "Validate a token against the configured issuers",
		Example: "jwtguard validate --config jwtguard.yaml --type id eyJhbGciOi...\n" +
			"jwtguard validate --server http://localhost:8080 -",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, ok := token.ParseType(tokenType)
			if !ok {
				return fmt.Errorf("unknown token type %q (access, id, refresh)", tokenType)
			}
			raw, err := readToken(args, os.Stdin, stdinIsTerminal())
			if err != nil {
				return err
			}
			if g.serverURL != "" {
				return validateRemote(g, ui, typ, raw)
			}
			return validateLocal(g, ui, typ, raw)
		},
	}
	cmd.Flags().StringVar(&tokenType, "type", "access", "Token type: access|id|refresh")
	return cmd
}

func validateLocal(g *globals, ui *ui, typ token.Type, raw string) error {
	v, err := g.newValidator()
	if err != nil {
		return err
	}
	defer v.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	content, err := v.Validate(ctx, typ, raw)
	if err != nil {
		event, _ := token.EventOf(err)
		fmt.Printf("%s %s %s\n", ui.err("[INVALID]"), event.String(), ui.dim("("+event.Category().String()+")"))
		if g.verbose {
			fmt.Println(ui.dim(err.Error()))
		}
		return errRejected
	}

	fmt.Printf("%s %s token from %s\n", ui.ok("[VALID]"), typ.String(), ui.info(content.Issuer()))
	printClaims(ui, content.Claims())
	return nil
}

func validateRemote(g *globals, ui *ui, typ token.Type, raw string) error {
	c := newClient(g.serverURL)
	status, resp, err := c.request("POST", "/v1/tokens/"+url.PathEscape(typ.String())+"/validate", "", map[string]string{"token": raw})
	if err != nil {
		return err
	}
	var out struct {
		Issuer   string          `json:"issuer"`
		Event    string          `json:"event"`
		Category string          `json:"category"`
		Claims   json.RawMessage `json:"claims"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return fmt.Errorf("error (%d): %s", status, string(resp))
	}
	if status >= 300 {
		if out.Event == "" {
			return fmt.Errorf("error (%d): %s", status, string(resp))
		}
		fmt.Printf("%s %s %s\n", ui.err("[INVALID]"), out.Event, ui.dim("("+out.Category+")"))
		return errRejected
	}
	fmt.Printf("%s %s token from %s\n", ui.ok("[VALID]"), typ.String(), ui.info(out.Issuer))
	var claims map[string]json.RawMessage
	_ = json.Unmarshal(out.Claims, &claims)
	printRawClaims(ui, claims)
	return nil
}

func decodeCmd(g *globals, ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:   "decode [token|-]",
		Short: "Print header and claims without verifying the signature",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readToken(args, os.Stdin, stdinIsTerminal())
			if err != nil {
				return err
			}
			decoded, err := token.NewParser(token.ParserConfig{}).Decode(raw)
			if err != nil {
				event, _ := token.EventOf(err)
				fmt.Printf("%s %s\n", ui.err("[MALFORMED]"), event.String())
				return errRejected
			}
			fmt.Println(ui.warn("[UNVERIFIED]"), "signature and claims were not checked")
			fmt.Printf("%s alg=%s kid=%s typ=%s\n", ui.title("header"), decoded.Header.Alg, decoded.Header.Kid, decoded.Header.Typ)
			if crit := decoded.Header.Critical(); len(crit) > 0 {
				fmt.Printf("  crit=%v\n", crit)
			}
			printClaims(ui, decoded.Claims)
			return nil
		},
	}
}

func printClaims(ui *ui, claims token.Claims) {
	raw := make(map[string]json.RawMessage, claims.Len())
	for name, v := range claims.Map() {
		b, err := json.Marshal(v)
		if err != nil {
			continue
		}
		raw[name] = b
	}
	printRawClaims(ui, raw)
}

func printRawClaims(ui *ui, claims map[string]json.RawMessage) {
	names := make([]string, 0, len(claims))
	for name := range claims {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Println(ui.title("claims"))
	for _, name := range names {
		line := string(claims[name])
		switch name {
		case token.ClaimExpiration, token.ClaimIssuedAt, token.ClaimNotBefore:
			var sec float64
			if json.Unmarshal(claims[name], &sec) == nil {
				line += " " + ui.dim(time.Unix(int64(sec), 0).UTC().Format(time.RFC3339))
			}
		}
		fmt.Printf("  %s: %s\n", ui.info(name), line)
	}
}
