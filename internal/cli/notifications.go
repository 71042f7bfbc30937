package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"plate/api/internal/model"
)

var (
	notificationsUnread  bool
	notificationsReadAll bool
)

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"inbox"},
	Short:   "List notifications",
	RunE:    runNotifications,
}

var (
	searchType  string
	searchPlate string
	searchLimit int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search plates, cards and comments of your team",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var watchCmd = &cobra.Command{
	Use:   "watch [plate-id...]",
	Short: "Print live changes until interrupted",
	Long: `Print team-wide plate changes and your notifications as they happen.
With plate ids, card and header changes of those plates are shown too.`,
	RunE: runWatch,
}

func init() {
	notificationsCmd.Flags().BoolVarP(&notificationsUnread, "unread", "u", false, "Only unread notifications")
	notificationsCmd.Flags().BoolVar(&notificationsReadAll, "read-all", false, "Mark every notification read")
	searchCmd.Flags().StringVarP(&searchType, "type", "t", "", "plate, plateItem or comment")
	searchCmd.Flags().StringVarP(&searchPlate, "plate", "P", "", "Restrict to one plate")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 20, "Maximum results")
}

func runNotifications(cmd *cobra.Command, args []string) error {
	c, err := authedClient(cmd)
	if err != nil {
		return err
	}
	ctx := ctxOf(cmd)
	out := cmd.OutOrStdout()

	if notificationsReadAll {
		updated, err := c.Notifications.MarkAllRead(ctx)
		if err != nil {
			return explain(err)
		}
		fmt.Fprintf(out, "Marked %d notifications read\n", updated)
		return nil
	}

	if err := c.Notifications.Refresh(ctx, notificationsUnread); err != nil {
		return explain(err)
	}
	items := c.Notifications.Items()
	if len(items) == 0 {
		fmt.Fprintln(out, "No notifications")
		return nil
	}
	for _, n := range items {
		marker := "•"
		if n.Read {
			marker = " "
		}
		fmt.Fprintf(out, "%s %s %s\n", marker, MutedStyle.Render(n.CreatedAt.Local().Format("Jan 02 15:04")), n.Message)
	}
	fmt.Fprintln(out, MutedStyle.Render(fmt.Sprintf("%d unread", c.Notifications.Unread())))
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	c, err := authedClient(cmd)
	if err != nil {
		return err
	}
	response, err := c.Search(ctxOf(cmd), args[0], searchType, searchPlate, searchLimit)
	if err != nil {
		return explain(err)
	}
	out := cmd.OutOrStdout()
	if len(response.Results) == 0 {
		fmt.Fprintf(out, "No results for %q\n", response.Query)
		return nil
	}
	for _, result := range response.Results {
		fmt.Fprintf(out, "%-10s %s %s\n", result.Type, TitleStyle.Render(result.Title), MutedStyle.Render(result.ID))
		if result.Snippet != "" {
			fmt.Fprintf(out, "           %s\n", result.Snippet)
		}
	}
	fmt.Fprintln(out, MutedStyle.Render(fmt.Sprintf("%d of %d", len(response.Results), response.Total)))
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	c, err := authedClient(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctxOf(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, plateID := range args {
		if _, err := c.Plates.Load(ctx, plateID); err != nil {
			return explain(err)
		}
	}

	out := cmd.OutOrStdout()
	stream := c.Stream(args...)
	stream.OnEvent = func(evt model.Event) { fmt.Fprintln(out, describeEvent(evt)) }
	fmt.Fprintln(out, MutedStyle.Render("Watching, press Ctrl+C to stop"))
	return explain(stream.Run(ctx))
}
