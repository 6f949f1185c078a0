package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/strmly/strmly/internal/app"
	"github.com/strmly/strmly/internal/config"
	"github.com/strmly/strmly/internal/domain"
	"github.com/strmly/strmly/internal/donation"
	"github.com/strmly/strmly/internal/mention"
	"github.com/strmly/strmly/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "strmlyctl",
	Short: "strmly operator CLI",
	Long: `strmlyctl inspects and operates the strmly chat donation pipeline.
- Streams: directory entries whose owner wallet receives donations.
- Messages: the persisted chat of a stream.
- Payouts: the ledger of dispatched donations, one per chat message.
- Extract: dry-run the donation extractor on a line of text.
- Replay: feed stored messages of a stream to the pipeline; messages that already had their attempt are skipped.`,
	SilenceUsage: true,
}

func main() {
	_ = godotenv.Load()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("db-path", "", "SQLite database path (overrides DB_PATH)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("verbose", false, "log pipeline activity to stderr")
	_ = viper.BindPFlag("db-path", rootCmd.PersistentFlags().Lookup("db-path"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	streamsCmd := &cobra.Command{Use: "streams", Short: "Stream directory commands"}
	streamsCmd.AddCommand(streamGetCmd(), streamSetOwnerCmd())

	messagesCmd := &cobra.Command{Use: "messages", Short: "Chat message commands"}
	messagesCmd.AddCommand(messageListCmd())

	payoutsCmd := &cobra.Command{Use: "payouts", Short: "Payout ledger commands"}
	payoutsCmd.AddCommand(payoutListCmd(), payoutGetCmd())

	rootCmd.AddCommand(streamsCmd, messagesCmd, payoutsCmd, extractCmd(), replayCmd())
}

func streamGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <streamID>",
		Short: "Show a stream's directory entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, repo *store.SQLiteStore) error {
				stream, err := repo.GetStream(ctx, args[0])
				if err != nil {
					return err
				}
				if stream == nil {
					return fmt.Errorf("stream %s not found", args[0])
				}
				return printJSONOrTable(stream)
			})
		},
	}
}

func streamSetOwnerCmd() *cobra.Command {
	var title, tags string
	cmd := &cobra.Command{
		Use:   "set-owner <streamID> <wallet>",
		Short: "Register or update the owner wallet of a stream",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !domain.IsAddress(args[1]) {
				return fmt.Errorf("invalid wallet address %q", args[1])
			}
			return withRepo(cmd.Context(), func(ctx context.Context, repo *store.SQLiteStore) error {
				stream := &domain.Stream{
					PlaybackID:   args[0],
					OwnerAddress: args[1],
					Title:        title,
					Tags:         splitCSV(tags),
				}
				if err := repo.UpsertStream(ctx, stream); err != nil {
					return err
				}
				saved, err := repo.GetStream(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(saved)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "stream title")
	cmd.Flags().StringVar(&tags, "tags", "", "comma separated tags")
	return cmd
}

func messageListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list <streamID>",
		Short: "List recent chat messages of a stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, repo *store.SQLiteStore) error {
				msgs, err := repo.ListMessages(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(msgs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Sender", "Body", "Reply To", "Created"})
				for _, m := range msgs {
					tw.AppendRow(table.Row{m.ID, m.Sender, m.Body, m.ReplyTo, m.CreatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max messages")
	return cmd
}

func payoutListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list <streamID>",
		Short: "List payout attempts of a stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, repo *store.SQLiteStore) error {
				payouts, err := repo.ListPayouts(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(payouts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Message", "Recipient", "Amount", "Status", "Tx", "Failure"})
				for _, p := range payouts {
					tw.AppendRow(table.Row{p.MessageID, p.Recipient, p.Amount.String(), p.Status, p.TxHash, p.FailureReason})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max payouts")
	return cmd
}

func payoutGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <messageID>",
		Short: "Show the payout attempt of one chat message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, repo *store.SQLiteStore) error {
				attempt, err := repo.GetPayoutByMessage(ctx, args[0])
				if err != nil {
					return err
				}
				if attempt == nil {
					return fmt.Errorf("no payout for message %s", args[0])
				}
				return printJSONOrTable(attempt)
			})
		},
	}
}

func extractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <text>",
		Short: "Run the donation extractor on text without dispatching",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return withApp(func(a *app.App) error {
				intent, err := a.Service.Extract(cmd.Context(), text)
				result := map[string]any{"text": text}
				switch {
				case errors.Is(err, donation.ErrNoDonation):
					result["donation"] = false
				case err != nil:
					result["donation"] = false
					result["error"] = err.Error()
					result["kind"] = donation.KindOf(err)
				default:
					result["donation"] = true
					result["amount"] = intent.Amount.String()
					result["message"] = intent.Message
				}
				return printJSONOrTable(result)
			})
		},
	}
}

func replayCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "replay <streamID>",
		Short: "Feed stored chat messages of a stream through the donation pipeline",
		Long: `Replay feeds the stored chat of a stream to the pipeline workers as insert
events. Messages that already had their single attempt are skipped, so only
mentions that never reached the pipeline are processed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				ctx := cmd.Context()
				streamID := args[0]
				msgs, err := a.Repo.ListMessages(ctx, streamID, limit)
				if err != nil {
					return err
				}

				events := make(chan domain.FeedEvent, len(msgs))
				for _, m := range msgs {
					events <- domain.FeedEvent{Type: domain.FeedInsert, StreamID: streamID, MessageID: m.ID, Message: m, At: m.CreatedAt}
				}
				close(events)
				if err := a.Service.Consume(ctx, streamID, events); err != nil {
					return err
				}
				// Wait for the workers to finish the queued mentions.
				a.Service.Close()

				detector := mention.New(a.Config.BotHandle)
				type row struct {
					MessageID string `json:"message_id"`
					Status    string `json:"status"`
					Amount    string `json:"amount,omitempty"`
					TxHash    string `json:"tx_hash,omitempty"`
					Failure   string `json:"failure,omitempty"`
				}
				var rows []row
				for _, m := range msgs {
					if ok, _ := detector.Detect(m.Body); !ok {
						continue
					}
					r := row{MessageID: m.ID, Status: "no payout"}
					attempt, err := a.Repo.GetPayoutByMessage(ctx, m.ID)
					if err != nil {
						return err
					}
					if attempt != nil {
						r.Status = string(attempt.Status)
						r.Amount = attempt.Amount.String()
						r.TxHash = attempt.TxHash
						r.Failure = attempt.FailureKind
					}
					rows = append(rows, r)
				}

				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Message", "Status", "Amount", "Tx", "Failure"})
				for _, r := range rows {
					tw.AppendRow(table.Row{r.MessageID, r.Status, r.Amount, r.TxHash, r.Failure})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "max messages to replay")
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if path := viper.GetString("db-path"); path != "" {
		cfg.DBPath = path
	}
	return cfg, nil
}

func newLogger() *slog.Logger {
	var out io.Writer = io.Discard
	if viper.GetBool("verbose") {
		out = os.Stderr
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func withRepo(ctx context.Context, fn func(context.Context, *store.SQLiteStore) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer repo.Close()
	return fn(ctx, repo)
}

func withApp(fn func(*app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(cfg, newLogger())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
