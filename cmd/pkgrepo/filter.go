package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cropalato/pkgrepo/internal/filter"
)

func newFilterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "filter",
		Short:             "Convert and try repository filter rules",
		PersistentPreRunE: skipApp,
	}
	cmd.AddCommand(newFilterEncodeCmd(), newFilterDecodeCmd(), newFilterTestCmd())
	return cmd
}

func newFilterEncodeCmd() *cobra.Command {
	var regex, exclude bool

	cmd := &cobra.Command{
		Use:     "encode NAMES",
		Short:   "Print the rule keeping the comma separated package names",
		Example: `  pkgrepo filter encode "nginx, redis" --exclude`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rule := filter.Encode(args[0], regex, exclude)
			if rule == nil {
				return fmt.Errorf("no package name given")
			}
			return writeJSON(cmd.OutOrStdout(), rule)
		},
	}

	cmd.Flags().BoolVar(&regex, "regex", false, "Treat the names as regular expressions")
	cmd.Flags().BoolVar(&exclude, "exclude", false, "Drop the matching packages instead of keeping them")
	return cmd
}

func newFilterDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode [RULE]",
		Short: "Print the names and options of a JSON rule, read from stdin when omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rule, err := readRule(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			params, err := filter.Parse(rule)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), params)
		},
	}
}

func newFilterTestCmd() *cobra.Command {
	var ruleFile string

	cmd := &cobra.Command{
		Use:   "test PACKAGE...",
		Short: "Print the packages accepted by a JSON rule",
		Example: `  pkgrepo filter encode "^nginx" --regex > rule.json
  pkgrepo filter test --rule rule.json nginx nginx-ingress redis`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if ruleFile != "" && ruleFile != "-" {
				f, err := os.Open(ruleFile)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			rule, err := readRule(in, nil)
			if err != nil {
				return err
			}
			m, err := filter.Compile(rule)
			if err != nil {
				return err
			}
			kept, err := m.Select(args)
			if err != nil {
				return err
			}
			for _, name := range kept {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), name); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&ruleFile, "rule", "-", "File holding the JSON rule")
	return cmd
}

func readRule(in io.Reader, args []string) (*filter.Rule, error) {
	var data []byte
	if len(args) == 1 && args[0] != "-" {
		data = []byte(args[0])
	} else {
		var err error
		if data, err = io.ReadAll(in); err != nil {
			return nil, err
		}
	}

	if strings.TrimSpace(string(data)) == "" {
		return nil, fmt.Errorf("empty rule")
	}
	var rule filter.Rule
	if err := json.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("decoding rule: %w", err)
	}
	return &rule, nil
}
