package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aschepis/backscratcher/promptcall/call"
	"github.com/aschepis/backscratcher/promptcall/mcp"
	"github.com/aschepis/backscratcher/promptcall/prompt"
	"github.com/aschepis/backscratcher/promptcall/tool"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <template | @file>",
	Short: "Render a prompt template and call the model",
	Long: `Render a prompt template with --arg values and send it to the configured provider.

Templates use {name} placeholders and may be split into SYSTEM:, USER: and
ASSISTANT: sections. Prefix the argument with @ to read the template from a file.`,
	Args: cobra.ExactArgs(1),
	RunE: runPrompt,
}

func init() {
	runCmd.Flags().StringArrayP("arg", "a", nil, "template argument as key=value (JSON values are decoded)")
	runCmd.Flags().String("provider", "", "provider to use (default from config)")
	runCmd.Flags().StringP("model", "m", "", "model to use (default from config)")
	runCmd.Flags().Bool("stream", false, "stream the response")
	runCmd.Flags().Bool("json", false, "ask for a JSON object")
	runCmd.Flags().Bool("mcp", false, "offer the tools of every configured MCP server")
	runCmd.Flags().Int("max-turns", 5, "maximum tool-call round trips")
	runCmd.Flags().Bool("no-store", false, "do not record the call")

	rootCmd.AddCommand(runCmd)
}

func runPrompt(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	providerName, _ := cmd.Flags().GetString("provider")
	model, _ := cmd.Flags().GetString("model")
	rawArgs, _ := cmd.Flags().GetStringArray("arg")
	stream, _ := cmd.Flags().GetBool("stream")
	jsonMode, _ := cmd.Flags().GetBool("json")
	useMCP, _ := cmd.Flags().GetBool("mcp")
	maxTurns, _ := cmd.Flags().GetInt("max-turns")
	noStore, _ := cmd.Flags().GetBool("no-store")

	source, err := loadTemplate(args[0])
	if err != nil {
		return err
	}
	templateArgs, err := parseArgs(rawArgs)
	if err != nil {
		return err
	}

	sess, err := openSession(ctx, providerName, model, !noStore)
	if err != nil {
		return err
	}
	defer sess.Close(context.WithoutCancel(ctx))

	opts := []call.Option{
		call.WithName("promptcall.run"),
		call.WithTemplate(source),
		call.WithCallParams(cfg.Defaults.CallParams),
		call.WithLogger(log),
	}
	for _, o := range sess.observers {
		opts = append(opts, call.WithObserver(o))
	}
	if jsonMode {
		opts = append(opts, call.WithJSONMode())
	}
	if useMCP {
		tools, closeMCP, err := mcpTools(ctx)
		if err != nil {
			return err
		}
		defer closeMCP()
		opts = append(opts, call.WithTools(tools...))
	}

	fn, err := call.New(sess.client, sess.key.Provider, sess.key.Model, opts...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if stream {
		return streamPrompt(ctx, fn, templateArgs, out)
	}
	return callPrompt(ctx, fn, templateArgs, maxTurns, out)
}

// callPrompt sends the prompt and keeps answering tool calls until the
// model stops asking for them or maxTurns is reached.
func callPrompt(ctx context.Context, fn *call.Function, args prompt.Args, maxTurns int, out io.Writer) error {
	inv, err := fn.Prepare(ctx, args)
	if err != nil {
		return err
	}

	for turn := 0; ; turn++ {
		resp, err := fn.Send(ctx, inv)
		if err != nil {
			return err
		}
		if text := resp.Content(); text != "" {
			fmt.Fprintln(out, text)
		}

		calls, err := resp.Tools()
		if err != nil {
			return err
		}
		if len(calls) == 0 {
			printUsage(out, resp)
			return nil
		}
		if turn+1 >= maxTurns {
			return fmt.Errorf("model still calling tools after %d turns", maxTurns)
		}

		outputs := make([]any, len(calls))
		for i, c := range calls {
			fmt.Fprintf(out, "-> %s(%s)\n", c.Name, c.Raw)
			if outputs[i], err = c.Invoke(ctx); err != nil {
				if errors.Is(err, tool.ErrNotInvocable) {
					return err
				}
				outputs[i] = err
			}
		}
		results, err := call.ToolResultMessage(calls, outputs)
		if err != nil {
			return err
		}
		inv.Append(resp.Message(), results)
	}
}

func streamPrompt(ctx context.Context, fn *call.Function, args prompt.Args, out io.Writer) error {
	s, err := fn.Stream(ctx, args)
	if err != nil {
		return err
	}
	defer s.Close()

	for s.Next() {
		chunk := s.Chunk()
		if chunk.Content != "" {
			fmt.Fprint(out, chunk.Content)
		}
	}
	fmt.Fprintln(out)
	if err := s.Err(); err != nil {
		return err
	}

	for _, tc := range s.ToolCalls() {
		fmt.Fprintf(out, "-> %s(%s)\n", tc.Name, tc.Input)
	}
	resp, err := s.Response()
	if err != nil {
		return err
	}
	printUsage(out, resp)
	return nil
}

func printUsage(out io.Writer, resp *call.Response) {
	line := fmt.Sprintf("[%s/%s] %d in, %d out", resp.Provider(), resp.Model(), resp.InputTokens(), resp.OutputTokens())
	if c, ok := resp.Cost(); ok {
		line += fmt.Sprintf(", $%.6f", c)
	}
	fmt.Fprintln(out, line)
}

func mcpTools(ctx context.Context) ([]*tool.Tool, func(), error) {
	var (
		clients []*mcp.Client
		tools   []*tool.Tool
	)
	closeAll := func() {
		for _, c := range clients {
			_ = c.Close()
		}
	}
	for name, server := range cfg.MCPServers {
		c, err := mcp.Connect(ctx, log, server)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("mcp server %s: %w", name, err)
		}
		clients = append(clients, c)
		serverTools, err := mcp.Tools(ctx, c, name)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("mcp server %s: %w", name, err)
		}
		tools = append(tools, serverTools...)
	}
	return tools, closeAll, nil
}

// loadTemplate returns arg itself, or the contents of the file it names
// when it starts with @.
func loadTemplate(arg string) (string, error) {
	path, ok := strings.CutPrefix(arg, "@")
	if !ok {
		return arg, nil
	}
	data, err := os.ReadFile(path) //#nosec 304 -- user-selected template file
	if err != nil {
		return "", fmt.Errorf("read template: %w", err)
	}
	return string(data), nil
}

// parseArgs turns key=value pairs into template arguments. Values that
// parse as JSON are decoded; everything else is kept as a string.
func parseArgs(pairs []string) (prompt.Args, error) {
	args := prompt.Args{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --arg %q: want key=value", pair)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			args[key] = decoded
		} else {
			args[key] = value
		}
	}
	return args, nil
}
