package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tiatele/telecore/rpc"
	"github.com/tiatele/telecore/session"
)

var callWithSession bool

var callCmd = &cobra.Command{
	Use:   "call <operation> [key=value...]",
	Short: "Send an encrypted request and print the decoded response",
	Example: `  telecore call ApiTiaTeleMD/echo msg=hello
  telecore call ApiTiaTeleMD/getAppointments --with-session page=1`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseParams(args[1:])
		if err != nil {
			return err
		}
		if callWithSession {
			sc, err := loadSession()
			if err != nil {
				return err
			}
			params = params.With(sc.Params(session.FieldSessionID, session.FieldUserID))
		}

		client, err := newRPCClient()
		if err != nil {
			return err
		}
		res, err := client.Call(cmd.Context(), args[0], params)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
		return res.Err()
	},
}

func init() {
	callCmd.Flags().BoolVarP(&callWithSession, "with-session", "s", false, "add sessionId and userId from the configured session")
	rootCmd.AddCommand(callCmd)
}

// parseParams turns key=value arguments into params. true, false and JSON
// numbers are sent typed, anything else as a string.
func parseParams(args []string) (rpc.Params, error) {
	params := rpc.Params{}
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid param %q, expected key=value", arg)
		}
		switch {
		case v == "true" || v == "false":
			params.Set(k, v == "true")
		case isNumber(v):
			params.Set(k, json.Number(v))
		default:
			params.Set(k, v)
		}
	}
	return params, nil
}

func isNumber(s string) bool {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return false
	}
	_, ok := v.(json.Number)
	return ok
}

func newRPCClient() (*rpc.Client, error) {
	key, err := cfg.API.EnvelopeKey()
	if err != nil {
		return nil, fmt.Errorf("envelope key: %w", err)
	}
	opts := []rpc.Option{
		rpc.WithLogger(logger),
		rpc.WithTimeout(cfg.API.Timeout),
		rpc.WithKeyID(cfg.API.KeyID),
		rpc.WithClientID(cfg.API.ClientID),
	}
	sk, err := cfg.API.SigningKey()
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}
	if sk != nil {
		opts = append(opts, rpc.WithSigningKey(*sk))
	}
	return rpc.NewClient(cfg.API.BaseURL, key, opts...), nil
}
