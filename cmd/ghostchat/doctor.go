package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"ghostchat/internal/config"
	"ghostchat/internal/player"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your ghostchat installation",
		Long: `Verifies that ghostchat's configuration, store backend, media temp
directory and audio player are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("ghostchat doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'ghostchat init' to create a default configuration.\n")
				return fmt.Errorf("1 check(s) failed")
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, 1 failed\n", passed)
				return fmt.Errorf("1 check(s) failed")
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Device identity
			if cfg.Identity.DeviceID == "" {
				printFail("Device identity", "missing deviceId")
				failed++
			} else {
				printPass("Device identity", cfg.Identity.DeviceID)
				passed++
			}

			// 4. Store reachable
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			st, err := openStore(ctx, cfg)
			if err != nil {
				printFail("Store: "+cfg.Store.Backend, err.Error())
				failed++
			} else {
				if _, err := st.Exists(ctx, "doctor-probe"); err != nil {
					printFail("Store: "+cfg.Store.Backend, fmt.Sprintf("probe failed: %v", err))
					failed++
				} else {
					printPass("Store: "+cfg.Store.Backend, "reachable")
					passed++
				}
				st.Close()
			}

			// 5. Temp dir writable (voice playback materializes files there)
			tempDir := cfg.Media.TempDir
			if tempDir == "" {
				tempDir = os.TempDir()
			}
			if f, err := os.CreateTemp(tempDir, "doctor-*"); err != nil {
				printFail("Temp dir", fmt.Sprintf("not writable: %v", err))
				failed++
			} else {
				f.Close()
				os.Remove(f.Name())
				printPass("Temp dir", tempDir)
				passed++
			}

			// 6. Audio player binary
			if p, err := player.NewExec(cfg.Player.Command, logger); err != nil {
				printWarn("Audio player", fmt.Sprintf("none found (%v); voice playback disabled", err))
				warned++
			} else {
				printPass("Audio player", p.Command())
				passed++
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before using ghostchat.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nghostchat should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! ghostchat is ready.\n")
			}
			return nil
		},
	}
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
