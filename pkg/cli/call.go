package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

func newCallCommand(g *globals) *cobra.Command {
	var (
		data   string
		params []string
	)
	cmd := &cobra.Command{
		Use:   "call <method> <path>",
		Short: "Call an HTTP function",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseParams(params)
			if err != nil {
				return err
			}
			var body any
			if data != "" {
				if err := json.Unmarshal([]byte(data), &body); err != nil {
					return fmt.Errorf("invalid --data: %w", err)
				}
			}

			s, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			fns, err := s.client.Functions(g.app)
			if err != nil {
				return err
			}
			req := fns.Request(args[1])

			var raw []byte
			ctx := cmd.Context()
			switch strings.ToUpper(args[0]) {
			case "GET":
				err = req.Get(ctx, values, &raw)
			case "POST":
				err = req.Post(ctx, body, &raw)
			case "PUT":
				err = req.Put(ctx, body, &raw)
			case "DELETE":
				err = req.Delete(ctx, values, &raw)
			default:
				return fmt.Errorf("unsupported method %q", args[0])
			}
			if err != nil {
				return err
			}
			var out any
			if json.Unmarshal(raw, &out) != nil {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(raw))
				return err
			}
			return write(cmd.OutOrStdout(), g.output, out)
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body for POST and PUT")
	cmd.Flags().StringArrayVarP(&params, "query", "q", nil, "query parameter as key=value, repeatable")
	return cmd
}

func parseParams(params []string) (url.Values, error) {
	values := url.Values{}
	for _, p := range params {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --query %q, expected key=value", p)
		}
		values.Add(key, value)
	}
	return values, nil
}
