package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/aetherflow/sessionpool/internal/credential"
)

// inspection is the report printed by the inspect command
type inspection struct {
	DisplayID string    `json:"display_id"`
	Account   string    `json:"account,omitempty"`
	ProfileID string    `json:"profile_id"`
	Issuer    string    `json:"issuer,omitempty"`
	XUID      string    `json:"xuid,omitempty"`
	Expiry    time.Time `json:"expiry,omitempty"`
	Remaining string    `json:"remaining,omitempty"`
	Verdict   string    `json:"verdict"`
}

func inspectCredential(c credential.Credential, now time.Time) inspection {
	in := inspection{
		DisplayID: c.DisplayID,
		Account:   c.Account,
		ProfileID: c.ProfileID,
		Issuer:    c.Issuer,
		XUID:      c.XUID,
		Expiry:    c.Expiry,
		Verdict:   "valid",
	}
	if !c.Expiry.IsZero() && !c.Expired(now) {
		in.Remaining = c.Expiry.Sub(now).Truncate(time.Second).String()
	}
	switch {
	case c.Expired(now):
		in.Verdict = "expired"
	case !c.HasProfile:
		in.Verdict = "no profile"
	}
	return in
}

func newInspectCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect <credential>",
		Short: "Parse a credential and print the identity it carries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := credential.Parse(args[0])
			if err != nil {
				return err
			}
			return writeInspection(cmd.OutOrStdout(), inspectCredential(c, time.Now()), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeInspection(w io.Writer, in inspection, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(in)
	}

	fmt.Fprintf(w, "Display name: %s\n", in.DisplayID)
	if in.Account != "" {
		fmt.Fprintf(w, "Account:      %s\n", in.Account)
	}
	fmt.Fprintf(w, "Profile ID:   %s\n", in.ProfileID)
	if in.Issuer != "" {
		fmt.Fprintf(w, "Issuer:       %s\n", in.Issuer)
	}
	if in.XUID != "" {
		fmt.Fprintf(w, "XUID:         %s\n", in.XUID)
	}
	if in.Expiry.IsZero() {
		fmt.Fprintln(w, "Expires:      never")
	} else {
		fmt.Fprintf(w, "Expires:      %s\n", in.Expiry.UTC().Format(time.RFC3339))
	}
	if in.Remaining != "" {
		fmt.Fprintf(w, "Remaining:    %s\n", in.Remaining)
	}
	_, err := fmt.Fprintf(w, "Verdict:      %s\n", in.Verdict)
	return err
}
