package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	btclogv1 "github.com/btcsuite/btclog"
	"github.com/btcsuite/btclog/v2"
	"github.com/lightninglabs/chancommit/btc"
	"github.com/lightninglabs/chancommit/keyring"
	"github.com/lightninglabs/chancommit/revocation"
	"github.com/lightninglabs/chancommit/signer"
	"github.com/lightninglabs/chancommit/txbuilder"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	defaultAPIURL        = "https://blockstream.info/api"
	defaultTestnetAPIURL = "https://blockstream.info/testnet/api"
	defaultSignetAPIURL  = "https://mempool.space/signet/api"
	defaultRegtestAPIURL = "http://localhost:3004"

	version = "0.1.0"

	// envPrefix is the prefix of all environment variables that can
	// override a flag, for example CHANCOMMIT_SEED.
	envPrefix = "CHANCOMMIT"
)

var (
	// Commit is set with ldflags during the build.
	Commit = ""

	Testnet bool
	Regtest bool
	Signet  bool

	logHandler  = btclog.NewDefaultHandler(os.Stdout)
	log         = btclog.NewSLogger(logHandler.SubSystem("CHCM"))
	chainParams = &chaincfg.MainNetParams
)

var rootCmd = &cobra.Command{
	Use:   "chancommit",
	Short: "Chancommit builds and signs lightning commitment transactions",
	Long: `This tool derives the keys of a lightning channel from a seed and
builds the funding, commitment and HTLC transactions of a channel state the
way BOLT 3 defines them.`,
	Version: fmt.Sprintf("v%s, commit %s", version, Commit),
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		switch {
		case Testnet:
			chainParams = &chaincfg.TestNet3Params

		case Regtest:
			chainParams = &chaincfg.RegressionNetParams

		case Signet:
			chainParams = &chaincfg.SigNetParams

		default:
			chainParams = &chaincfg.MainNetParams
		}

		if err := setupLogging(viper.GetString("debuglevel")); err != nil {
			return err
		}

		log.Debugf("chancommit version v%s commit %s", version, Commit)

		return nil
	},
	SilenceUsage:      true,
	DisableAutoGenTag: true,
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(
		&Testnet, "testnet", "t", false, "Indicates if testnet "+
			"parameters should be used",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&Regtest, "regtest", "r", false, "Indicates if regtest "+
			"parameters should be used",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&Signet, "signet", "s", false, "Indicates if the public "+
			"signet parameters should be used",
	)
	rootCmd.PersistentFlags().String(
		"debuglevel", "info", "Logging level for all subsystems "+
			"{trace, debug, info, warn, error, critical}",
	)
	rootCmd.PersistentFlags().String(
		"seed", "", "Hex encoded 32 byte channel root seed; can also "+
			"be set with the "+envPrefix+"_SEED environment "+
			"variable",
	)

	initConfig()

	// Bind flags to viper
	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		log.Errorf("error binding flags: %v", err)
	}

	rootCmd.AddCommand(
		newDeriveKeysCommand(),
		newCommitSecretCommand(),
		newStoreSecretCommand(),
		newFundingTxCommand(),
		newBuildCommitCommand(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		cancel()
		os.Exit(1)
	}
}

// initConfig lets environment variables override flags.
func initConfig() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

func setupLogging(debugLevel string) error {
	level, ok := btclog.LevelFromString(debugLevel)
	if !ok {
		return fmt.Errorf("invalid debug level %q", debugLevel)
	}

	log.SetLevel(level)
	addSubLogger(level, keyring.Subsystem, keyring.UseLogger)
	addSubLogger(level, revocation.Subsystem, revocation.UseLogger)
	addSubLogger(level, txbuilder.Subsystem, txbuilder.UseLogger)
	addSubLogger(level, signer.Subsystem, signer.UseLogger)
	addSubLogger(level, btc.Subsystem, btc.UseLogger)

	return nil
}

// addSubLogger creates the logger of a sub system and hands it to the
// package.
func addSubLogger(level btclogv1.Level, subsystem string,
	useLogger func(btclog.Logger)) {

	logger := btclog.NewSLogger(logHandler.SubSystem(subsystem))
	logger.SetLevel(level)
	useLogger(logger)
}

// seedFlag reads the channel root seed from a flag or the environment.
type seedFlag struct {
	Seed string
}

func newSeedFlag(cmd *cobra.Command) *seedFlag {
	s := &seedFlag{}
	cmd.Flags().StringVar(
		&s.Seed, "rootseed", "", "hex encoded 32 byte channel root "+
			"seed for this command only; overrides --seed",
	)

	return s
}

func (s *seedFlag) read() (*keyring.MasterKey, error) {
	seedHex := s.Seed
	if seedHex == "" {
		seedHex = viper.GetString("seed")
	}
	if seedHex == "" {
		return nil, fmt.Errorf("a seed must be given with --seed or "+
			"the %s_SEED environment variable", envPrefix)
	}

	seed, err := hex.DecodeString(strings.TrimSpace(seedHex))
	if err != nil {
		return nil, fmt.Errorf("seed is not valid hex: %w", err)
	}

	return keyring.NewMasterKey(seed, chainParams)
}

// commandContext returns the context of the command, tests call commands
// without one.
func commandContext(cmd *cobra.Command) context.Context {
	if cmd == nil || cmd.Context() == nil {
		return context.Background()
	}
	return cmd.Context()
}

func newExplorerAPI(apiURL string) *btc.ExplorerAPI {
	if apiURL != defaultAPIURL {
		return &btc.ExplorerAPI{BaseURL: apiURL}
	}

	switch chainParams.Name {
	case chaincfg.TestNet3Params.Name:
		return &btc.ExplorerAPI{BaseURL: defaultTestnetAPIURL}

	case chaincfg.SigNetParams.Name:
		return &btc.ExplorerAPI{BaseURL: defaultSignetAPIURL}

	case chaincfg.RegressionNetParams.Name:
		return &btc.ExplorerAPI{BaseURL: defaultRegtestAPIURL}

	default:
		return &btc.ExplorerAPI{BaseURL: apiURL}
	}
}

func readInput(input string) ([]byte, error) {
	if strings.TrimSpace(input) == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(input)
}

// printJSON prints the result and logs it on trace level for the tests.
func printJSON(v any) error {
	content, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("error encoding result: %w", err)
	}

	fmt.Println(string(content))
	log.Tracef("%s", content)

	return nil
}

func hexPubKey(pubKey *btcec.PublicKey) string {
	return hex.EncodeToString(pubKey.SerializeCompressed())
}
