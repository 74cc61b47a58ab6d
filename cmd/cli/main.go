// Command voxcart is the VoxCart command line: voice enrollment and verification,
// catalog administration and an interactive shopping shell.
//
// Usage:
//
//	voxcart [global-options] <command> [args]
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/himanishpuri/VoxCart/pkg/logger"
	"github.com/himanishpuri/VoxCart/pkg/models"
	"github.com/himanishpuri/VoxCart/pkg/voxcart"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/biometric"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/feedback"
)

// Global flags
var (
	dbPath      string
	tempDir     string
	sampleRate  int
	threshold   float64
	catalogPath string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "voxcart",
	Short: "Voice-authenticated shopping CLI",
	Long: `VoxCart enrolls speakers from WAV recordings, verifies them by voice and
runs Portuguese shopping commands against a SQLite catalog.

Examples:
  voxcart enroll ana a1.wav a2.wav a3.wav
  voxcart verify ana query.wav
  voxcart products add "Sal" 2.50 10
  voxcart shell --login ana --sample query.wav`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger.SetLevel(logger.DEBUG)
		}
	},
}

func init() {
	_ = godotenv.Load()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&dbPath, "db", getEnvOrDefault("VOXCART_DB_PATH", "voxcart.sqlite3"), "Path to the SQLite database file")
	flags.StringVar(&tempDir, "temp", getEnvOrDefault("VOXCART_TEMP_DIR", os.TempDir()), "Directory for temporary audio files")
	flags.IntVar(&sampleRate, "rate", 16000, "Audio sample rate for processing")
	flags.Float64Var(&threshold, "threshold", biometric.DefaultThreshold, "Verification threshold (mean log-likelihood)")
	flags.StringVar(&catalogPath, "catalog", os.Getenv("VOXCART_CATALOG"), "YAML catalog seeded into an empty store")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// createService creates a new VoxCart service with configured options
func createService() (voxcart.Service, error) {
	catalog := voxcart.DefaultCatalog()
	if catalogPath != "" {
		var err error
		if catalog, err = voxcart.LoadCatalog(catalogPath); err != nil {
			return nil, err
		}
	}

	fmt.Println("🔧 Initializing service...")
	return voxcart.NewService(
		voxcart.WithDBPath(dbPath),
		voxcart.WithTempDir(tempDir),
		voxcart.WithSampleRate(sampleRate),
		voxcart.WithThreshold(threshold),
		voxcart.WithCatalogSeed(catalog),
		voxcart.WithFeedback(feedback.Discard),
	)
}

func printBanner() {
	banner := `
__     __          ____           _   
\ \   / /____  __ / ___|__ _ _ __| |_ 
 \ \ / / _ \ \/ /| |   / _' | '__| __|
  \ V / (_) >  < | |__| (_| | |  | |_ 
   \_/ \___/_/\_\ \____\__,_|_|   \__|

        Voice Shopping CLI Tool
`
	fmt.Println(banner)
}

func printProduct(i int, p models.Product) {
	fmt.Printf("%d. %s - R$ %s (estoque: %d)\n", i+1, p.Name, p.Price.StringFixed(2), p.Stock)
}

func printSale(s models.Sale) {
	fmt.Printf("🧾 Sale #%d by %s on %s\n", s.ID, s.Username, s.CreatedAt.Format(time.DateTime))
	for _, it := range s.Items {
		fmt.Printf("   %d x %s @ R$ %s = R$ %s\n", it.Quantity, it.Product, it.UnitPrice.StringFixed(2), it.Subtotal().StringFixed(2))
	}
	fmt.Printf("   Total: R$ %s\n", s.Total.StringFixed(2))
}

func main() {
	printBanner()
	if err := rootCmd.Execute(); err != nil {
		logger.GetLogger().Errorf("Command failed: %v", err)
		fmt.Printf("\n❌ %v\n", err)
		os.Exit(1)
	}
}
