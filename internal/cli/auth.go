package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"plate/api/internal/client"
)

var loginEmail string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session",
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke the stored session",
	RunE:  runLogout,
}

var (
	signupEmail string
	signupName  string
)

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account",
	RunE:  runSignup,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in account",
	RunE:  runWhoami,
}

func init() {
	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "Account email")
	signupCmd.Flags().StringVarP(&signupEmail, "email", "e", "", "Account email")
	signupCmd.Flags().StringVarP(&signupName, "name", "n", "", "Display name")
}

// input is shared so consecutive prompts do not lose buffered lines.
var input *bufio.Reader

func prompt(in io.Reader, out io.Writer, label string) (string, error) {
	if input == nil {
		input = bufio.NewReader(in)
	}
	fmt.Fprint(out, label)
	line, err := input.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readPassword hides input when stdin is a terminal.
func readPassword(cmd *cobra.Command, label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return prompt(cmd.InOrStdin(), cmd.OutOrStdout(), label)
	}
	fmt.Fprint(cmd.OutOrStdout(), label)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(raw), nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	email := loginEmail
	if email == "" {
		email = cfg.Email
	}
	if email == "" {
		var err error
		if email, err = prompt(cmd.InOrStdin(), cmd.OutOrStdout(), "Email: "); err != nil {
			return err
		}
	}
	password, err := readPassword(cmd, "Password: ")
	if err != nil {
		return err
	}

	c := newClient(cmd)
	session, err := c.SignIn(ctxOf(cmd), email, password)
	if err != nil {
		return err
	}
	cfg.Email = session.User.Email
	if err := cfg.Save(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Signed in as "+session.User.DisplayName+" <"+session.User.Email+">"))
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	if !cfg.Session.Valid() {
		fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
		return nil
	}
	err := newClient(cmd).Logout(ctxOf(cmd))
	cfg.Session = client.Session{}
	if saveErr := cfg.Save(); saveErr != nil {
		return saveErr
	}
	if err != nil {
		return fmt.Errorf("server logout failed, local session removed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
	return nil
}

func runSignup(cmd *cobra.Command, args []string) error {
	var err error
	email, name := signupEmail, signupName
	if email == "" {
		if email, err = prompt(cmd.InOrStdin(), cmd.OutOrStdout(), "Email: "); err != nil {
			return err
		}
	}
	if name == "" {
		if name, err = prompt(cmd.InOrStdin(), cmd.OutOrStdout(), "Display name: "); err != nil {
			return err
		}
	}
	password, err := readPassword(cmd, "Password: ")
	if err != nil {
		return err
	}
	confirm, err := readPassword(cmd, "Confirm password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return fmt.Errorf("passwords do not match")
	}

	c := newClient(cmd)
	result, err := c.SignUp(ctxOf(cmd), email, password, name)
	if err != nil {
		return err
	}
	cfg.Email = result.User.Email
	if err := cfg.Save(); err != nil {
		return err
	}
	if result.DevVerificationToken != "" {
		if err := c.VerifyEmail(ctxOf(cmd), result.DevVerificationToken); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Account created and verified. Run 'plate login'."))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), result.Message)
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	c, err := authedClient(cmd)
	if err != nil {
		return err
	}
	user, err := c.Me(ctxOf(cmd))
	if err != nil {
		return explain(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s <%s>\n", user.DisplayName, user.Email)
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s, team %s\n", MutedStyle.Render("role"), user.Role, user.TeamID)
	return nil
}
