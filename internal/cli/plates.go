package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"plate/api/internal/client"
)

var platesPlatter string

var platesCmd = &cobra.Command{
	Use:     "plates",
	Aliases: []string{"ls"},
	Short:   "List plates grouped by platter",
	RunE:    runPlates,
}

var showCmd = &cobra.Command{
	Use:   "show <plate-id>",
	Short: "Show a plate with its headers and cards",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var (
	addHeader string
	addTitle  string
)

var addCmd = &cobra.Command{
	Use:   "add <plate-id> <title>",
	Short: "Add a card to a plate",
	Long: `Add a card at the end of a header. Without --header the first header
of the plate is used.

Examples:
  plate add plt_1 "Write release notes"
  plate add plt_1 "Fix login" --header hdr_2`,
	Args: cobra.ExactArgs(2),
	RunE: runAdd,
}

var movePlate string

var moveCmd = &cobra.Command{
	Use:   "move <item-id> <header-id> <index>",
	Short: "Move a card to a position within a header",
	Args:  cobra.ExactArgs(3),
	RunE:  runMove,
}

func init() {
	platesCmd.Flags().StringVarP(&platesPlatter, "platter", "p", "", "Only plates of this platter")
	addCmd.Flags().StringVarP(&addHeader, "header", "H", "", "Target header id")
	moveCmd.Flags().StringVarP(&movePlate, "plate", "P", "", "Plate id (looked up from the card when omitted)")
}

func runPlates(cmd *cobra.Command, args []string) error {
	c, err := authedClient(cmd)
	if err != nil {
		return err
	}
	ctx := ctxOf(cmd)
	if err := c.Platters.Refresh(ctx); err != nil {
		return explain(err)
	}
	if err := c.Plates.Refresh(ctx, platesPlatter); err != nil {
		return explain(err)
	}

	out := cmd.OutOrStdout()
	plates := c.Plates.Items()
	if len(plates) == 0 {
		fmt.Fprintln(out, "No plates found")
		return nil
	}
	current := ""
	for _, plate := range plates {
		if plate.PlatterID != current {
			current = plate.PlatterID
			name := current
			if platter, ok := c.Platters.Get(current); ok {
				name = platter.Name
			}
			fmt.Fprintln(out, TitleStyle.Render(name))
		}
		fmt.Fprintf(out, "  %d. %-30s %s\n", plate.ListPos, plate.Name, MutedStyle.Render(plate.ID))
	}
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	c, err := authedClient(cmd)
	if err != nil {
		return err
	}
	view, err := c.Plates.Load(ctxOf(cmd), args[0])
	if err != nil {
		return explain(err)
	}
	renderPlate(cmd.OutOrStdout(), view.Snapshot())
	return nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	c, err := authedClient(cmd)
	if err != nil {
		return err
	}
	ctx := ctxOf(cmd)
	view, err := c.Plates.Load(ctx, args[0])
	if err != nil {
		return explain(err)
	}
	headerID := addHeader
	if headerID == "" {
		snapshot := view.Snapshot()
		if len(snapshot.Headers) == 0 {
			return fmt.Errorf("plate %s has no headers", args[0])
		}
		headerID = snapshot.Headers[0].ID
	}
	item, err := c.Items.Create(ctx, view, client.NewItem{HeaderID: headerID, Title: args[1]})
	if err != nil {
		return explain(err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Added "+item.Title)+" "+MutedStyle.Render(item.ID))
	return nil
}

func runMove(cmd *cobra.Command, args []string) error {
	index, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("index must be a number: %w", err)
	}
	c, err := authedClient(cmd)
	if err != nil {
		return err
	}
	ctx := ctxOf(cmd)

	plateID := movePlate
	if plateID == "" {
		item, err := c.Items.Get(ctx, args[0])
		if err != nil {
			return explain(err)
		}
		plateID = item.PlateID
	}
	view, err := c.Plates.Load(ctx, plateID)
	if err != nil {
		return explain(err)
	}

	// The view is updated before the request completes; the toast handler
	// reports a rejected move.
	pending := c.Items.Move(view, args[0], args[1], index)
	renderPlate(cmd.OutOrStdout(), view.Snapshot())
	if err := pending.Wait(); err != nil {
		return fmt.Errorf("move was not saved")
	}
	return nil
}
