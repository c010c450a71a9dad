// Package turnscmder provides the turns command, which reads the turn log
// from a running API server.
package turnscmder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/relay/api"
	"github.com/papercomputeco/relay/pkg/cliui"
	"github.com/papercomputeco/relay/pkg/config"
	"github.com/papercomputeco/relay/pkg/storage"
	"github.com/papercomputeco/relay/pkg/utils"
)

const turnsLongDesc string = `List relayed chat turns, newest first, or show one turn.

Reads the turn log from the API server started by "relay serve".

Examples:
  relay turns
  relay turns --limit 5
  relay turns --quiet | head -1 | xargs relay turns
  relay turns 2b1f7c1e-5d0a-4a53-9a4e-8d9f6a3c1b27`

const turnsShortDesc string = "List recorded chat turns"

const requestTimeout = 30 * time.Second

type turnsCommander struct {
	apiTarget string
	limit     int
	quiet     bool
	asJSON    bool

	v          *viper.Viper
	httpClient *http.Client
}

func NewTurnsCmd() *cobra.Command {
	cmder := &turnsCommander{httpClient: &http.Client{Timeout: requestTimeout}}

	cmd := &cobra.Command{
		Use:   "turns [id]",
		Short: turnsShortDesc,
		Long:  turnsLongDesc,
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, config.TurnsFlags, []string{config.FlagAPITarget})
			cmder.v = v
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmder.v != nil {
				cmder.apiTarget = cmder.v.GetString("client.api_target")
			}
			if len(args) == 1 {
				return cmder.show(cmd.Context(), cmd.OutOrStdout(), args[0])
			}
			return cmder.list(cmd.Context(), cmd.OutOrStdout())
		},
	}

	config.AddStringFlag(cmd, config.TurnsFlags, config.FlagAPITarget, &cmder.apiTarget)
	cmd.Flags().IntVarP(&cmder.limit, "limit", "n", 20, "Number of turns to list")
	cmd.Flags().BoolVarP(&cmder.quiet, "quiet", "q", false, "Print only turn IDs, one per line")
	cmd.Flags().BoolVar(&cmder.asJSON, "json", false, "Print the API response as JSON")

	return cmd
}

func (c *turnsCommander) list(ctx context.Context, w io.Writer) error {
	if c.limit <= 0 {
		return fmt.Errorf("--limit must be positive, got %d", c.limit)
	}

	var resp api.TurnsResponse
	if err := c.get(ctx, "/v1/turns?limit="+strconv.Itoa(c.limit), &resp); err != nil {
		return err
	}

	switch {
	case c.asJSON:
		return writeJSON(w, resp)
	case c.quiet:
		for _, t := range resp.Turns {
			fmt.Fprintln(w, t.ID)
		}
		return nil
	case resp.Count == 0:
		fmt.Fprintln(w, cliui.DimStyle.Render("No turns recorded yet."))
		return nil
	}

	fmt.Fprintf(w, "\n%s\n\n", cliui.HeaderStyle.Render(fmt.Sprintf("%d most recent turns", resp.Count)))
	for _, t := range resp.Turns {
		fmt.Fprintf(w, "  %s  %s  %s  %s\n",
			cliui.DimStyle.Render(t.CreatedAt.Local().Format("Jan 02 15:04:05")),
			cliui.NameStyle.Render(cliui.PadRight(t.Model, 22)),
			statusText(t.Status),
			cliui.DimStyle.Render(fmt.Sprintf("%6dms", t.DurationMS)),
		)
		fmt.Fprintf(w, "    %s\n", oneLine(t.Prompt, 72))
		fmt.Fprintf(w, "    %s\n\n", cliui.DimStyle.Render(t.ID.String()))
	}
	return nil
}

func (c *turnsCommander) show(ctx context.Context, w io.Writer, id string) error {
	var turn storage.Turn
	if err := c.get(ctx, "/v1/turns/"+url.PathEscape(id), &turn); err != nil {
		return err
	}
	if c.asJSON {
		return writeJSON(w, turn)
	}

	rows := [][2]string{
		{"ID", turn.ID.String()},
		{"Model", turn.Model},
		{"Path", turn.Path},
		{"Stream", strconv.FormatBool(turn.Stream)},
		{"Status", strconv.Itoa(turn.Status)},
		{"Duration", (time.Duration(turn.DurationMS) * time.Millisecond).String()},
		{"Created", turn.CreatedAt.Local().Format(time.RFC3339)},
	}
	fmt.Fprintln(w)
	for _, r := range rows {
		fmt.Fprintf(w, "  %s %s\n", cliui.KeyStyle.Render(cliui.PadRight(r[0]+":", 10)), cliui.ValueStyle.Render(r[1]))
	}
	fmt.Fprintf(w, "\n%s\n%s\n", cliui.HeaderStyle.Render("Prompt"), turn.Prompt)
	fmt.Fprintf(w, "\n%s\n%s\n\n", cliui.HeaderStyle.Render("Response"), turn.Response)
	return nil
}

// get decodes the JSON body of an API GET into out. Non-200 responses carry
// an api.ErrorResponse.
func (c *turnsCommander) get(ctx context.Context, path string, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	target := strings.TrimSuffix(c.apiTarget, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("contacting API server at %s (is \"relay serve\" running?): %w", c.apiTarget, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("API server: %s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("API server: HTTP %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding API response: %w", err)
	}
	return nil
}

func statusText(status int) string {
	s := strconv.Itoa(status)
	if status >= 400 {
		return cliui.WarnStyle.Render(s)
	}
	return cliui.ValueStyle.Render(s)
}

func oneLine(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return cliui.DimStyle.Render("(no prompt text)")
	}
	return utils.Truncate(s, width)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
