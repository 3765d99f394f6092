package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tiatele/telecore/rpc"
	"github.com/tiatele/telecore/session"
)

const loginOperation = "ApiTiaTeleMD/login"

type loginResult struct {
	SessionID      string `json:"sessionId"`
	UserID         string `json:"userId"`
	OrganizationID string `json:"organizationId"`
}

var loginOrganization string

var loginCmd = &cobra.Command{
	Use:   "login <user-id>",
	Short: "Log in and print the session as environment assignments",
	Long: `Log in and print the session as TELECORE_SESSION_* assignments, suitable
for eval or for appending to a .env file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newRPCClient()
		if err != nil {
			return err
		}
		params := rpc.Params{}.
			Set(session.KeyUserID, args[0]).
			Set(session.KeyOrganizationID, loginOrganization)

		res, err := rpc.Do[loginResult](cmd.Context(), client, loginOperation, params)
		if err != nil {
			return err
		}

		logger.Info("logged in", "userId", res.UserID)
		fmt.Printf("TELECORE_SESSION_SESSION_ID=%s\n", res.SessionID)
		fmt.Printf("TELECORE_SESSION_USER_ID=%s\n", res.UserID)
		fmt.Printf("TELECORE_SESSION_ORGANIZATION_ID=%s\n", res.OrganizationID)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginOrganization, "org", "o", "", "organization id")
	rootCmd.AddCommand(loginCmd)
}

// sessionStore exposes the configured session the way the app's key-value
// storage does, so the CLI goes through the same loading path.
func sessionStore() *session.MapStore {
	values := map[string]string{}
	put := func(k, v string) {
		if v != "" {
			values[k] = v
		}
	}
	put(session.StorageSessionID, cfg.Session.SessionID)
	put(session.StorageUserID, cfg.Session.UserID)
	put(session.StorageOrganizationID, cfg.Session.OrganizationID)
	put(session.StorageGroupCallURL, cfg.Signaling.ConferenceBaseURL)
	return session.NewMapStore(values)
}

func loadSession() (*session.Context, error) {
	sc, err := session.Load(sessionStore())
	if err != nil {
		return nil, err
	}
	if !sc.Authenticated() {
		return nil, fmt.Errorf("%w: run telecore login first", session.ErrUnauthenticated)
	}
	return sc, nil
}
