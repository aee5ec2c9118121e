// Package chatcmder provides the chat command for playing the story against
// a running storyloom API server.
package chatcmder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"charm.land/lipgloss/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/papercomputeco/storyloom/api"
	"github.com/papercomputeco/storyloom/pkg/agent"
	"github.com/papercomputeco/storyloom/pkg/cliui"
	"github.com/papercomputeco/storyloom/pkg/config"
	"github.com/papercomputeco/storyloom/pkg/logger"
	"github.com/papercomputeco/storyloom/pkg/narrative"
	"github.com/papercomputeco/storyloom/pkg/utils"
)

var (
	userPrompt     = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true).Render("you> ")
	narratorPrompt = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render("narrator>")
)

const (
	requestTimeout = 5 * time.Minute
	historyLimit   = 10
	historyWidth   = 120
)

type chatCommander struct {
	apiTarget string
	debug     bool
	markdown  bool

	client *http.Client
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	logger *zap.Logger
}

const chatLongDesc string = `Play the story through a running storyloom API server.

Each line you type is sent to POST /api/chat. The narrator's reply is printed
with the scene's current location. Replies are rendered as markdown when
stdout is a terminal.

Commands:
  /history   Show the most recent turns
  /exit      Quit (Ctrl+D also works)

Examples:
  storyloom chat
  storyloom chat --api-target http://localhost:8081`

const chatShortDesc string = "Play the story interactively"

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, config.Flags, []string{config.FlagAPITarget})
			cmder.apiTarget = v.GetString("client.api_target")
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			cmder.in = cmd.InOrStdin()
			cmder.out = cmd.OutOrStdout()
			cmder.errOut = cmd.ErrOrStderr()
			cmder.markdown = term.IsTerminal(int(os.Stdout.Fd()))

			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagAPITarget, &cmder.apiTarget)

	return cmd
}

func (c *chatCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.logger == nil {
		c.logger = logger.NewLogger(c.debug)
		defer func() { _ = c.logger.Sync() }()
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: requestTimeout}
	}

	fmt.Fprintln(c.out)
	fmt.Fprintf(c.out, "  %s %s\n",
		cliui.KeyStyle.Render("Server:"),
		cliui.NameStyle.Render(c.apiTarget),
	)
	fmt.Fprintf(c.out, "  %s\n\n", cliui.DimStyle.Render("Type your action and press Enter. /exit or Ctrl+D to quit."))

	scanner := bufio.NewScanner(c.in)
	for {
		fmt.Fprint(c.out, userPrompt)
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		switch {
		case input == "":
			continue
		case input == "/exit":
			fmt.Fprintln(c.out)
			return nil
		case input == "/history":
			if err := c.printHistory(ctx); err != nil {
				fmt.Fprintf(c.errOut, "  %s %v\n", cliui.FailMark, err)
			}
			continue
		}

		var ex *agent.Exchange
		err := cliui.Step(c.errOut, "narrating", func() error {
			var sendErr error
			ex, sendErr = c.send(ctx, input)
			return sendErr
		})
		if err != nil {
			fmt.Fprintf(c.errOut, "  %s %v\n", cliui.FailMark, err)
			continue
		}
		c.printExchange(ex)
	}

	fmt.Fprintln(c.out)
	return scanner.Err()
}

// send posts one message and decodes the exchange.
func (c *chatCommander) send(ctx context.Context, message string) (*agent.Exchange, error) {
	body, err := json.Marshal(api.ChatRequest{Message: message})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	url := strings.TrimRight(c.apiTarget, "/") + "/api/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", utils.UserAgent())

	c.logger.Debug("sending chat message", zap.String("url", url), zap.Int("bytes", len(body)))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	var ex agent.Exchange
	if err := json.NewDecoder(resp.Body).Decode(&ex); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &ex, nil
}

func (c *chatCommander) printExchange(ex *agent.Exchange) {
	text := ex.AssistantTurn.Content
	if c.markdown {
		if rendered, err := cliui.RenderMarkdown(text, 0); err == nil {
			text = rendered
		}
	}

	fmt.Fprintf(c.out, "\n%s %s\n", narratorPrompt, cliui.LocationStyle.Render(ex.Location))
	fmt.Fprintln(c.out, strings.TrimRight(text, "\n"))
	if !ex.Compliant && ex.Feedback != "" {
		fmt.Fprintf(c.out, "  %s %s\n", cliui.WarnStyle.Render("!"), cliui.DimStyle.Render(ex.Feedback))
	}
	if ex.Consolidating {
		fmt.Fprintf(c.out, "  %s\n", cliui.DimStyle.Render("(weaving memories...)"))
	}
	fmt.Fprintln(c.out)
}

func (c *chatCommander) printHistory(ctx context.Context) error {
	url := strings.TrimRight(c.apiTarget, "/") + "/api/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}

	var history api.MessagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return fmt.Errorf("decoding history: %w", err)
	}

	fmt.Fprintln(c.out)
	for _, t := range narrative.Tail(history.Messages, historyLimit) {
		fmt.Fprintf(c.out, "  %s %s %s\n",
			cliui.KeyStyle.Render(narrative.RoleLabel(t.Role)+":"),
			cliui.ValueStyle.Render(utils.Truncate(t.Content, historyWidth)),
			cliui.DimStyle.Render("@ "+t.Location),
		)
	}
	fmt.Fprintln(c.out)
	return nil
}

func responseError(resp *http.Response) error {
	var apiErr api.ErrorResponse
	data, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	if len(data) > 0 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return errors.New(http.StatusText(resp.StatusCode))
}
