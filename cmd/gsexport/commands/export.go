package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gsexport/lib/configutil"
	"gsexport/lib/osutil"
	"gsexport/lib/scrapers/gradescope"
	"gsexport/lib/serviceutil"
	"gsexport/lib/sqliteutil"
	"gsexport/services/export"
	"gsexport/services/export/db"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	output       *string
	courseFilter *[]string
	concurrency  *int
	reportDb     *string
)

func init() {
	output = exportCmd.Flags().StringP(
		"output", "o", "",
		"Path of the ZIP archive file to create.",
	)
	courseFilter = exportCmd.Flags().StringArray(
		"course", nil,
		"Only export courses matching this id or name (repeatable).",
	)
	concurrency = exportCmd.Flags().Int(
		"concurrency", 4,
		"Number of concurrent file downloads.",
	)
	reportDb = exportCmd.Flags().String(
		"report-db", "",
		"Optional sqlite database to record run outcomes to.",
	)
	exportCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(exportCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export -s <session> -t <token> -o <archive.zip>",
	Short: "Downloads every submission visible to your session into a zip archive.",
	Run: func(cmd *cobra.Command, args []string) {
		if !strings.HasSuffix(*output, ".zip") {
			serviceutil.Fatal(
				"invalid output path",
				fmt.Errorf("%q must have the .zip extension", *output),
			)
		}

		cfg, err := configutil.ReadConfig[Config]("gsexport.json5")
		if err != nil && !os.IsNotExist(err) {
			serviceutil.Fatal("failed to read config", err)
		}
		authSession, err := resolveSession(cfg)
		if err != nil {
			serviceutil.Fatal("missing credentials", err)
		}

		client, err := gradescope.NewClient(gradescope.ClientOptions{
			Session: authSession,
		})
		if err != nil {
			serviceutil.Fatal("failed to initialize gradescope client", err)
		}

		fs := afero.NewOsFs()
		archive, err := fs.Create(*output)
		if err != nil {
			serviceutil.Fatal("failed to create output archive", err)
		}
		defer archive.Close()

		ctx := osutil.SignalContext()
		report, runErr := export.NewService(client).Run(ctx, export.RunOptions{
			Output:       archive,
			CourseFilter: *courseFilter,
			Concurrency:  *concurrency,
		})

		fmt.Println(report.Summary())

		if *reportDb != "" {
			sqlite, err := sqliteutil.OpenDB(db.Schema, *reportDb)
			if err != nil {
				serviceutil.Fatal("failed to open report db", err)
			}
			defer sqlite.Close()
			err = report.Save(cmd.Context(), db.New(sqlite), runErr)
			if err != nil {
				serviceutil.Fatal("failed to save report", err)
			}
		}

		if runErr != nil {
			if errors.Is(runErr, gradescope.ErrAuth) {
				serviceutil.Fatal(
					"authentication failed, grab fresh cookies from your browser",
					runErr,
				)
			}
			serviceutil.Fatal("export did not complete", runErr)
		}
	},
}
