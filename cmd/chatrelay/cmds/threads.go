package cmds

import (
	"context"
	"strings"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/sources"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatrelay/pkg/chat"
	"github.com/go-go-golems/chatrelay/pkg/config"
	"github.com/go-go-golems/chatrelay/pkg/persistence/historystore"
)

func newThreadsCommand(rt *runtime) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Inspect persisted threads without a running server",
	}

	listCmd, err := NewThreadsListCommand(rt)
	if err != nil {
		return nil, err
	}
	historyCmd, err := NewThreadsHistoryCommand(rt)
	if err != nil {
		return nil, err
	}
	for _, c := range []cmds.GlazeCommand{listCmd, historyCmd} {
		cobraCmd, err := cli.BuildCobraCommand(c, cli.WithCobraMiddlewaresFunc(threadsMiddlewares))
		if err != nil {
			return nil, err
		}
		cmd.AddCommand(cobraCmd)
	}
	return cmd, nil
}

func threadsMiddlewares(
	_ *values.Values,
	cmd *cobra.Command,
	args []string,
) ([]sources.Middleware, error) {
	return []sources.Middleware{
		sources.FromCobra(cmd),
		sources.FromArgs(args),
		sources.FromEnv(config.EnvPrefix,
			fields.WithSource("env"),
		),
		sources.FromDefaults(),
	}, nil
}

func glazedSections() ([]cmds.CommandDescriptionOption, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsSection, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}
	return []cmds.CommandDescriptionOption{cmds.WithSections(glazedSection, commandSettingsSection)}, nil
}

type ThreadsListCommand struct {
	*cmds.CommandDescription
	rt *runtime
}

type ThreadsListSettings struct {
	Prefix string `glazed:"thread-id-prefix"`
	Limit  int    `glazed:"limit"`
}

func NewThreadsListCommand(rt *runtime) (*ThreadsListCommand, error) {
	sections, err := glazedSections()
	if err != nil {
		return nil, err
	}
	opts := append([]cmds.CommandDescriptionOption{
		cmds.WithShort("List persisted threads"),
		cmds.WithLong("List every thread with a metadata record, with its message count and timestamps (unix ms)."),
		cmds.WithFlags(
			fields.New(
				"thread-id-prefix",
				fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("Only list threads whose ID starts with this prefix"),
			),
			fields.New(
				"limit",
				fields.TypeInteger,
				fields.WithDefault(0),
				fields.WithHelp("Limit number of threads (0 = no limit)"),
			),
		),
	}, sections...)

	return &ThreadsListCommand{
		CommandDescription: cmds.NewCommandDescription("list", opts...),
		rt:                 rt,
	}, nil
}

func (c *ThreadsListCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	s := &ThreadsListSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	hs, kv, err := openHistory(c.rt.settings)
	if err != nil {
		return err
	}
	defer func() { _ = kv.Close() }()

	rows, err := threadRows(ctx, hs, s)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

// threadRows returns one row per thread, in thread ID order.
func threadRows(ctx context.Context, hs *historystore.Store, s *ThreadsListSettings) ([]types.Row, error) {
	ids, err := hs.ListThreads(ctx)
	if err != nil {
		return nil, err
	}
	var rows []types.Row
	for _, id := range ids {
		if !strings.HasPrefix(id, s.Prefix) {
			continue
		}
		if s.Limit > 0 && len(rows) >= s.Limit {
			break
		}
		info, _, err := hs.Info(ctx, id)
		if err != nil {
			return nil, err
		}
		rows = append(rows, types.NewRow(
			types.MRP("thread_id", id),
			types.MRP("message_count", info.MessageCount),
			types.MRP("created_at_ms", info.CreatedAtMs),
			types.MRP("updated_at_ms", info.UpdatedAtMs),
		))
	}
	return rows, nil
}

var _ cmds.GlazeCommand = &ThreadsListCommand{}

type ThreadsHistoryCommand struct {
	*cmds.CommandDescription
	rt *runtime
}

type ThreadsHistorySettings struct {
	ThreadID string `glazed:"thread-id"`
}

func NewThreadsHistoryCommand(rt *runtime) (*ThreadsHistoryCommand, error) {
	sections, err := glazedSections()
	if err != nil {
		return nil, err
	}
	opts := append([]cmds.CommandDescriptionOption{
		cmds.WithShort("Print the persisted history of a thread"),
		cmds.WithArguments(
			fields.New(
				"thread-id",
				fields.TypeString,
				fields.WithHelp("Thread to print"),
				fields.WithRequired(true),
			),
		),
	}, sections...)

	return &ThreadsHistoryCommand{
		CommandDescription: cmds.NewCommandDescription("history", opts...),
		rt:                 rt,
	}, nil
}

func (c *ThreadsHistoryCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	s := &ThreadsHistorySettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	hs, kv, err := openHistory(c.rt.settings)
	if err != nil {
		return err
	}
	defer func() { _ = kv.Close() }()

	history, err := hs.Load(ctx, s.ThreadID)
	if err != nil {
		return err
	}
	for _, row := range historyRows(history) {
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func historyRows(history []chat.Message) []types.Row {
	rows := make([]types.Row, 0, len(history))
	for i, m := range history {
		rows = append(rows, types.NewRow(
			types.MRP("index", i),
			types.MRP("role", string(m.Role)),
			types.MRP("content", m.Content),
		))
	}
	return rows
}

var _ cmds.GlazeCommand = &ThreadsHistoryCommand{}
