package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MarkoPoloResearchLab/coinflip/pkg/game"
	"github.com/spf13/cobra"
)

const (
	flagInput          = "input"
	flagRules          = "rules"
	flagServerSeed     = "server-seed"
	flagServerSeedHash = "server-seed-hash"
	flagClientSeed     = "client-seed"
	flagFlips          = "flips"
	flagStake          = "stake"
	offlineSessionID   = "offline"
	stdinMarker        = "-"
)

var errInconsistent = errors.New("session does not verify")

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "coinflip-verify: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coinflip-verify",
		Short: "Recompute the flips of a revealed coin-flip session",
		Long: "Reads a session document (the /game/state or /game/verify response) or seeds given as flags,\n" +
			"checks the server seed against its commitment and recomputes every flip.\n" +
			"With --rules the zero outcome and denomination are checked too.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			document, err := loadDocument(cmd)
			if err != nil {
				return err
			}
			var rules *game.GameRules
			if path, _ := cmd.Flags().GetString(flagRules); path != "" {
				loaded, err := loadRules(path)
				if err != nil {
					return err
				}
				rules = &loaded
			}
			result, err := verifyDocument(document, rules)
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(result); err != nil {
				return err
			}
			if !result.Consistent {
				return errInconsistent
			}
			return nil
		},
	}
	cmd.Flags().String(flagInput, "", "session JSON file, or - for stdin")
	cmd.Flags().String(flagRules, "", "game rules JSON used to check outcomes")
	cmd.Flags().String(flagServerSeed, "", "revealed server seed")
	cmd.Flags().String(flagServerSeedHash, "", "committed server seed hash")
	cmd.Flags().String(flagClientSeed, "", "client seed")
	cmd.Flags().Int(flagFlips, 0, "number of flips to recompute when no input document is given")
	cmd.Flags().Int64(flagStake, 0, "stake in cents, overriding the document")
	return cmd
}

type flipDocument struct {
	Number       int    `json:"number"`
	IsZero       bool   `json:"is_zero"`
	Denomination int64  `json:"denomination"`
	ResultHash   string `json:"result_hash"`
	BalanceAfter int64  `json:"cashout_balance_after"`
	generated    bool
}

type sessionDocument struct {
	SessionID      string         `json:"session_id"`
	ServerSeed     string         `json:"server_seed"`
	ServerSeedHash string         `json:"server_seed_hash"`
	ClientSeed     string         `json:"client_seed"`
	Stake          int64          `json:"stake"`
	Simulated      bool           `json:"simulated"`
	Flips          []flipDocument `json:"flips"`
}

func loadDocument(cmd *cobra.Command) (sessionDocument, error) {
	flags := cmd.Flags()
	document := sessionDocument{}
	input, _ := flags.GetString(flagInput)
	if input != "" {
		var reader io.Reader = cmd.InOrStdin()
		if input != stdinMarker {
			file, err := os.Open(input)
			if err != nil {
				return sessionDocument{}, err
			}
			defer file.Close()
			reader = file
		}
		if err := json.NewDecoder(reader).Decode(&document); err != nil {
			return sessionDocument{}, fmt.Errorf("decode session: %w", err)
		}
	}
	if value, _ := flags.GetString(flagServerSeed); value != "" {
		document.ServerSeed = value
	}
	if value, _ := flags.GetString(flagServerSeedHash); value != "" {
		document.ServerSeedHash = value
	}
	if value, _ := flags.GetString(flagClientSeed); value != "" {
		document.ClientSeed = value
	}
	if value, _ := flags.GetInt64(flagStake); value > 0 {
		document.Stake = value
	}
	if count, _ := flags.GetInt(flagFlips); count > 0 && len(document.Flips) == 0 {
		for number := 1; number <= count; number++ {
			document.Flips = append(document.Flips, flipDocument{Number: number, generated: true})
		}
	}
	if strings.TrimSpace(document.ServerSeed) == "" {
		return sessionDocument{}, fmt.Errorf("server seed is not revealed; verify after the session ends")
	}
	return document, nil
}

func loadRules(path string) (game.GameRules, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return game.GameRules{}, err
	}
	var rules game.GameRules
	if err := json.Unmarshal(raw, &rules); err != nil {
		return game.GameRules{}, fmt.Errorf("decode rules: %w", err)
	}
	return rules, rules.Validate()
}
