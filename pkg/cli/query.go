package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bfast/bfast-go/pkg/database"
	"github.com/bfast/bfast-go/pkg/query"
)

// queryFlags are the shaping flags shared by the data commands.
type queryFlags struct {
	where  string
	order  string
	skip   int
	size   int
	keys   []string
	master bool
	cache  bool
}

func (f *queryFlags) register(cmd *cobra.Command, shaping bool) {
	flags := cmd.Flags()
	flags.StringVarP(&f.where, "where", "w", "", `filter as JSON, e.g. '{"name":"joe"}'`)
	if shaping {
		flags.StringVar(&f.order, "order", "", `sort directive, e.g. "age,-name"`)
		flags.IntVar(&f.skip, "skip", 0, "records to skip")
		flags.IntVar(&f.size, "size", 0, "maximum records to return")
		flags.StringSliceVar(&f.keys, "keys", nil, "fields to return")
	}
	flags.BoolVar(&f.master, "master", false, "authenticate with the master key")
	flags.BoolVar(&f.cache, "cache", false, "serve from the local cache when possible")
}

func (f *queryFlags) model() (query.Model[map[string]any], error) {
	m := query.Model[map[string]any]{Skip: f.skip, Size: f.size, Keys: f.keys}
	if f.where != "" {
		if err := json.Unmarshal([]byte(f.where), &m.Filter); err != nil {
			return m, fmt.Errorf("invalid --where: %w", err)
		}
	}
	order, err := parseOrder(f.order)
	if err != nil {
		return m, err
	}
	m.OrderBy = order
	return m, nil
}

func (f *queryFlags) options() database.RequestOptions {
	return database.RequestOptions{CacheEnable: f.cache, UseMasterKey: f.master}
}

// parseOrder reads a comma separated sort directive where a leading "-" means descending.
func parseOrder(s string) ([]query.Order, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []query.Order
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "" || part == "-":
			return nil, fmt.Errorf("invalid order directive %q", s)
		case strings.HasPrefix(part, "-"):
			out = append(out, query.Descending(part[1:]))
		default:
			out = append(out, query.Ascending(strings.TrimPrefix(part, "+")))
		}
	}
	return out, nil
}

// runDomain opens a session, resolves the domain of args[0] and hands it to fn.
func (g *globals) runDomain(cmd *cobra.Command, args []string, fn func(d *database.Domain[map[string]any]) (any, error)) error {
	s, err := g.open(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	db, err := s.client.Database(g.app)
	if err != nil {
		return err
	}
	d := db.Domain(args[0])
	defer d.Wait()
	result, err := fn(d)
	if err != nil {
		return err
	}
	return write(cmd.OutOrStdout(), g.output, result)
}

func newFindCommand(g *globals) *cobra.Command {
	var qf queryFlags
	cmd := &cobra.Command{
		Use:   "find <domain>",
		Short: "Find records of a domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := qf.model()
			if err != nil {
				return err
			}
			return g.runDomain(cmd, args, func(d *database.Domain[map[string]any]) (any, error) {
				records, err := d.Find(cmd.Context(), m, qf.options())
				if records == nil && err == nil {
					records = []map[string]any{}
				}
				return records, err
			})
		},
	}
	qf.register(cmd, true)
	return cmd
}

func newFirstCommand(g *globals) *cobra.Command {
	var qf queryFlags
	cmd := &cobra.Command{
		Use:   "first <domain>",
		Short: "Fetch the first record matching a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := qf.model()
			if err != nil {
				return err
			}
			return g.runDomain(cmd, args, func(d *database.Domain[map[string]any]) (any, error) {
				record, err := d.First(cmd.Context(), m, qf.options())
				if err != nil || record == nil {
					return nil, err
				}
				return *record, nil
			})
		},
	}
	qf.register(cmd, true)
	return cmd
}

func newGetCommand(g *globals) *cobra.Command {
	var qf queryFlags
	cmd := &cobra.Command{
		Use:   "get <domain> <id>",
		Short: "Fetch one record by id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.runDomain(cmd, args, func(d *database.Domain[map[string]any]) (any, error) {
				return d.Get(cmd.Context(), args[1], qf.options())
			})
		},
	}
	cmd.Flags().BoolVar(&qf.master, "master", false, "authenticate with the master key")
	cmd.Flags().BoolVar(&qf.cache, "cache", false, "serve from the local cache when possible")
	return cmd
}

func newCountCommand(g *globals) *cobra.Command {
	var qf queryFlags
	cmd := &cobra.Command{
		Use:   "count <domain>",
		Short: "Count records matching a filter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := qf.model()
			if err != nil {
				return err
			}
			return g.runDomain(cmd, args, func(d *database.Domain[map[string]any]) (any, error) {
				n, err := d.Count(cmd.Context(), m, qf.options())
				return map[string]int{"count": n}, err
			})
		},
	}
	qf.register(cmd, false)
	return cmd
}

func newDistinctCommand(g *globals) *cobra.Command {
	var qf queryFlags
	cmd := &cobra.Command{
		Use:   "distinct <domain> <key>",
		Short: "List the distinct values of a field",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := qf.model()
			if err != nil {
				return err
			}
			return g.runDomain(cmd, args, func(d *database.Domain[map[string]any]) (any, error) {
				values, err := database.Distinct[any](cmd.Context(), d, args[1], m, qf.options())
				if values == nil && err == nil {
					values = []any{}
				}
				return values, err
			})
		},
	}
	qf.register(cmd, false)
	return cmd
}

// stageFlag is the command line form of one aggregation stage.
type stageFlag struct {
	Group   map[string]any `json:"group"`
	Match   map[string]any `json:"match"`
	Project map[string]any `json:"project"`
	Limit   int            `json:"limit"`
	Skip    int            `json:"skip"`
	Sort    string         `json:"sort"`
}

// parsePipeline accepts either a single stage object or an array of stages.
func parsePipeline(raw string) (query.Pipeline, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("--pipeline is required")
	}
	var flags []stageFlag
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &flags); err != nil {
			return nil, fmt.Errorf("invalid --pipeline: %w", err)
		}
	} else {
		var one stageFlag
		if err := json.Unmarshal([]byte(raw), &one); err != nil {
			return nil, fmt.Errorf("invalid --pipeline: %w", err)
		}
		flags = append(flags, one)
	}

	stages := make(query.Stages, 0, len(flags))
	for _, f := range flags {
		sort, err := parseOrder(f.Sort)
		if err != nil {
			return nil, err
		}
		stages = append(stages, query.AggregationOptions{
			Group:   f.Group,
			Match:   query.Filter(f.Match),
			Project: f.Project,
			Limit:   f.Limit,
			Skip:    f.Skip,
			Sort:    sort,
		})
	}
	return stages, nil
}

func newAggregateCommand(g *globals) *cobra.Command {
	var (
		qf       queryFlags
		pipeline string
	)
	cmd := &cobra.Command{
		Use:   "aggregate <domain>",
		Short: "Run an aggregation pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePipeline(pipeline)
			if err != nil {
				return err
			}
			return g.runDomain(cmd, args, func(d *database.Domain[map[string]any]) (any, error) {
				return database.Aggregate[any](cmd.Context(), d, p, qf.options())
			})
		},
	}
	cmd.Flags().StringVarP(&pipeline, "pipeline", "p", "", `stage or stages as JSON, e.g. '{"group":{"_id":"$kind"},"sort":"-_id"}'`)
	cmd.Flags().BoolVar(&qf.master, "master", false, "authenticate with the master key")
	cmd.Flags().BoolVar(&qf.cache, "cache", false, "serve from the local cache when possible")
	return cmd
}
