package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mmeshcher/bookworm/internal/model"
	"github.com/mmeshcher/bookworm/internal/service"
	"github.com/mmeshcher/bookworm/internal/validation"
)

const minPasswordLen = 8

type newUser struct {
	FirstName string `validate:"required,max=100"`
	LastName  string `validate:"required,max=100"`
	Email     string `validate:"required,email,max=254"`
	Phone     string `validate:"max=30"`
	Role      string `validate:"oneof=librarian member"`
	Password  string `validate:"required,min=8"`
}

func newCreateUserCmd(connect connectFunc) *cobra.Command {
	var u newUser

	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a librarian or member account",
		Long: "Create a librarian or member account. The password is read from the terminal " +
			"without echo, or from the first line of stdin when it is not a terminal.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			u.Password = password
			u.Email = strings.TrimSpace(u.Email)

			if err := validation.New().Struct(u); err != nil {
				return errors.New(validation.Summary(err))
			}

			repo, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer repo.Close()

			svc := service.NewService(repo, nil, nil, service.Options{})
			id, err := svc.RegisterMember(cmd.Context(), &model.Member{
				FirstName: u.FirstName,
				LastName:  u.LastName,
				Email:     u.Email,
				Phone:     u.Phone,
				Role:      model.Role(u.Role),
				Status:    model.MembershipActive,
			}, u.Password)
			if err != nil {
				return fmt.Errorf("create user: %w", err)
			}

			cmd.Printf("created %s %s <%s> with id %d\n", u.Role, u.FirstName, u.Email, id)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&u.Email, "email", "", "login email")
	f.StringVar(&u.FirstName, "first-name", "", "first name")
	f.StringVar(&u.LastName, "last-name", "", "last name")
	f.StringVar(&u.Phone, "phone", "", "phone number")
	f.StringVar(&u.Role, "role", string(model.RoleLibrarian), "account role: librarian or member")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("first-name")
	_ = cmd.MarkFlagRequired("last-name")

	return cmd
}

func newSetPasswordCmd(connect connectFunc) *cobra.Command {
	var id int64

	cmd := &cobra.Command{
		Use:   "set-password",
		Short: "Replace the password of an existing account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if id <= 0 {
				return errors.New("--id must be a positive member id")
			}
			password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			if len(password) < minPasswordLen {
				return fmt.Errorf("password must be at least %d characters", minPasswordLen)
			}

			repo, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := service.NewService(repo, nil, nil, service.Options{}).SetPassword(cmd.Context(), id, password); err != nil {
				return fmt.Errorf("set password: %w", err)
			}

			cmd.Printf("password updated for member %d\n", id)
			return nil
		},
	}

	cmd.Flags().Int64Var(&id, "id", 0, "member id")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

// readPassword читает пароль без эха с терминала либо первую строку из in.
func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
