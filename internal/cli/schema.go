package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"fieldledger/backend/internal/store"
)

// schemaView is the printable form of the applied schema.
type schemaView struct {
	Version     int                    `json:"version"`
	Collections []store.CollectionSpec `json:"collections"`
}

func (v schemaView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "schema version %d\n", v.Version)
	for _, c := range v.Collections {
		fmt.Fprintf(&b, "  %s\n", c.Name)
		for _, idx := range c.Indexes {
			flags := ""
			if idx.Unique {
				flags += " unique"
			}
			if idx.Instant {
				flags += " instant"
			}
			fmt.Fprintf(&b, "    %s(%s)%s\n", idx.Name, idx.Field, flags)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewSchemaCommand opens the ledger, applying any pending additive schema
// changes, and prints the resulting schema.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Apply pending schema changes and show the schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.application(cmd)
			if err != nil {
				return err
			}
			s := a.Store.Schema()
			return rootOpts.formatter(cmd).Success(schemaView{Version: s.Version, Collections: s.Collections})
		},
	}
}
