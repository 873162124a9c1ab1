// Command cognauth is a small CLI around the SDK: sign in to a Cognito
// user pool, inspect the cached identity, call an authenticated API
// and sign out again. Credentials persist between invocations in the
// user config directory.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mousybusiness/cognauth/pkg/cache"
	"github.com/mousybusiness/cognauth/pkg/claims"
	"github.com/mousybusiness/cognauth/pkg/client"
	"github.com/mousybusiness/cognauth/pkg/provider/cognito"
	"github.com/mousybusiness/cognauth/pkg/store/filestore"
)

const usage = `usage: cognauth <command> [flags]

commands:
  login    -u <username>            sign in with username and password
  whoami                            print the cached identity
  call     [-X method] [-d body] <path>
                                    send an authenticated API request
  logout                            sign out and delete cached tokens

environment:
  COGNITO_REGION      user pool region, e.g. ap-southeast-2
  COGNITO_CLIENT_ID   app client id
  COGNITO_DOMAIN      hosted UI domain (optional, enables token exchange)
  API_BASE_URL        base URL for the call command
  COGNAUTH_DEBUG      set to enable debug logging
`

func main() {
	if os.Getenv("COGNAUTH_DEBUG") != "" {
		log.SetLevel(log.DebugLevel)
	}

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "login":
		err = login(os.Args[2:])
	case "whoami":
		err = whoami()
	case "call":
		err = call(os.Args[2:])
	case "logout":
		err = logout()
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func newComponents() (*cognito.Client, *cache.Cache, error) {
	p, err := cognito.New(cognito.Config{
		Region:   os.Getenv("COGNITO_REGION"),
		ClientID: os.Getenv("COGNITO_CLIENT_ID"),
		Domain:   os.Getenv("COGNITO_DOMAIN"),
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "couldn't configure identity provider")
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, nil, errors.Wrap(err, "couldn't resolve config directory")
	}

	s, err := filestore.New(filepath.Join(dir, "cognauth"))
	if err != nil {
		return nil, nil, err
	}

	return p, cache.New(p, p, s), nil
}

func newCache() (*cache.Cache, error) {
	_, c, err := newComponents()
	return c, err
}

func login(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	username := fs.String("u", "", "username")
	_ = fs.Parse(args)

	if *username == "" {
		return errors.New("require -u username")
	}

	fmt.Print("Password: ")
	password, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return errors.Wrap(err, "couldn't read password")
	}
	password = strings.TrimRight(password, "\r\n")

	p, c, err := newComponents()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// authenticate through the provider directly so the refresh token
	// can be persisted and the identity survives this process
	session, err := p.Authenticate(ctx, *username, password)
	if err != nil {
		return err
	}
	if err := c.SetExternalTokens(session.AccessToken, session.IDToken, session.RefreshToken, time.Until(session.Expiry)); err != nil {
		return err
	}

	sub, err := claims.Subject(session.IDToken)
	if err != nil {
		return err
	}
	fmt.Printf("signed in as %v\n", sub)
	return nil
}

func whoami() error {
	c, err := newCache()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	id, _, err := c.Tokens(ctx)
	if err != nil {
		return err
	}

	sub, err := claims.Subject(id)
	if err != nil {
		return err
	}
	username, err := claims.Username(id)
	if err != nil {
		return err
	}

	fmt.Printf("subject:  %v\nusername: %v\n", sub, username)
	return nil
}

func call(args []string) error {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	method := fs.String("X", "GET", "HTTP method")
	data := fs.String("d", "", "request body")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("require exactly one path argument")
	}

	base := os.Getenv("API_BASE_URL")
	if base == "" {
		return errors.New("require API_BASE_URL")
	}

	c, err := newCache()
	if err != nil {
		return err
	}

	api, err := client.New(base, client.WithTokenSource(c))
	if err != nil {
		return err
	}

	req := client.Request{
		Path:   fs.Arg(0),
		Method: *method,
	}
	if *data != "" {
		req.Body = []byte(*data)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	body, err := api.Do(ctx, req)
	if err != nil {
		return err
	}

	fmt.Println(string(body))
	return nil
}

func logout() error {
	c, err := newCache()
	if err != nil {
		return err
	}

	if err := c.Clear(); err != nil {
		return err
	}
	fmt.Println("signed out")
	return nil
}
