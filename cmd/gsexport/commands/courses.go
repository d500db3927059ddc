package commands

import (
	"fmt"
	"os"

	"gsexport/lib/configutil"
	"gsexport/lib/osutil"
	"gsexport/lib/scrapers/gradescope"
	"gsexport/lib/serviceutil"
	"gsexport/services/export"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(coursesCmd)
}

var coursesCmd = &cobra.Command{
	Use:   "courses -s <session> -t <token>",
	Short: "Lists the courses visible to your session without exporting anything.",
	Run: func(cmd *cobra.Command, args []string) {
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

		courses, err := export.NewService(client).Courses(osutil.SignalContext())
		if err != nil {
			serviceutil.Fatal("failed to list courses", err)
		}

		t := table.NewWriter()
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"id", "course", "term"})
		for _, c := range courses {
			t.AppendRow(table.Row{c.ID, c.Name(), c.Term})
		}
		fmt.Println(t.Render())
	},
}
