/*
Package main is a line-oriented terminal client for the edchat server.

It restores the previous login when one is stored, keeps the realtime
channel open while running and prints pushed messages of the open
conversation as they arrive. Type /help for the command list.
*/
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"edchat/internal/app/message"
	"edchat/internal/app/user"
	"edchat/internal/configs"
	"edchat/internal/messenger"
	"edchat/internal/messenger/api"
	"edchat/internal/pkg/logx"
)

const helpText = `Commands:
  /login <username> <password>
  /register <username> <password> [student|teacher] [display name]
  /users                      list users, * marks online
  /open <number|id>           open a conversation from the last /users list
  /history                    reload the open conversation
  /image <path> [caption]     send an image
  /online                     show who is online
  /close                      close the conversation
  /logout
  /quit
Any other line is sent as a message to the open conversation.`

// console serializes writes from the prompt loop and the realtime goroutine.
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

type app struct {
	session *messenger.Session
	out     *console
	users   []user.User
}

func main() {
	if err := configs.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	cfg, err := configs.LoadClientConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	level := zerolog.WarnLevel
	if os.Getenv("CHAT_DEBUG") != "" {
		level = zerolog.DebugLevel
	}
	logx.InitWithWriter(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}, level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{out: &console{out: os.Stdout}}
	a.session = messenger.NewSession(messenger.Config{
		API:         api.New(cfg.ServerURL, nil),
		Credentials: messenger.NewFileCredentialStore(cfg.SessionFile),
		Notifier:    messenger.NotifierFunc(func(text string) { a.out.printf("! %s", text) }),
		Deduplicate: cfg.Deduplicate,
		OnMessage:   a.printMessage,
		OnServerError: func(e messenger.ErrorEvent) {
			a.out.printf("! Disconnected by server: %s", e.Message)
		},
	})
	defer a.session.Close()

	if err := a.session.Rehydrate(ctx); err != nil {
		if !errors.Is(err, messenger.ErrNoSession) {
			logx.Warn("Stored session unusable", "error", err.Error())
		}
		a.out.printf("Not logged in. Use /login or /register, /help for all commands.")
	} else {
		self, _ := a.session.Self()
		a.out.printf("Welcome back, %s.", self.Name)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := a.handle(ctx, strings.TrimSpace(line)); quit {
				return
			}
		}
	}
}

func (a *app) handle(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		a.send(ctx, line, nil)
		return false
	}

	cmd, rest, _ := strings.Cut(line, " ")
	args := strings.Fields(rest)

	switch cmd {
	case "/help":
		a.out.printf("%s", helpText)
	case "/quit", "/exit":
		return true
	case "/login":
		if len(args) != 2 {
			a.out.printf("usage: /login <username> <password>")
			return false
		}
		if err := a.session.Login(ctx, args[0], args[1]); err == nil {
			self, _ := a.session.Self()
			a.out.printf("Logged in as %s (%s).", self.Name, self.Role)
		}
	case "/register":
		a.register(ctx, args)
	case "/users":
		a.listUsers(ctx)
	case "/open":
		a.open(ctx, args)
	case "/history":
		if err := a.session.LoadHistory(ctx); err != nil {
			if errors.Is(err, messenger.ErrNoSelection) {
				a.report(err)
			}
			return false
		}
		a.printConversation()
	case "/image":
		a.sendImage(ctx, rest)
	case "/online":
		online := a.session.OnlineUsers()
		a.out.printf("%d other user(s) online: %s", a.session.OnlineCount(), strings.Join(online, ", "))
	case "/close":
		a.session.ClearSelection()
		a.out.printf("Conversation closed.")
	case "/logout":
		if err := a.session.Logout(); err != nil {
			a.report(err)
		}
		a.users = nil
		a.out.printf("Logged out.")
	default:
		a.out.printf("Unknown command %s, try /help.", cmd)
	}
	return false
}

func (a *app) register(ctx context.Context, args []string) {
	if len(args) < 2 {
		a.out.printf("usage: /register <username> <password> [student|teacher] [display name]")
		return
	}

	in := api.RegisterInput{Username: args[0], Password: args[1]}
	rest := args[2:]
	if len(rest) > 0 && user.ValidRole(rest[0]) {
		in.Role = rest[0]
		rest = rest[1:]
	}
	in.DisplayName = strings.Join(rest, " ")

	if err := a.session.Register(ctx, in); err == nil {
		self, _ := a.session.Self()
		a.out.printf("Account created. You are %s (%s).", self.Name, self.Role)
	}
}

func (a *app) listUsers(ctx context.Context) {
	users, err := a.session.Users(ctx)
	if err != nil {
		if errors.Is(err, messenger.ErrNoSession) {
			a.report(err)
		}
		return
	}

	a.users = users
	if len(users) == 0 {
		a.out.printf("No other users yet.")
		return
	}
	for i, u := range users {
		mark := " "
		if a.session.IsOnline(u.ID) {
			mark = "*"
		}
		a.out.printf("%2d %s %s [%s]", i+1, mark, u.Name, u.Role)
	}
}

func (a *app) open(ctx context.Context, args []string) {
	if len(args) != 1 {
		a.out.printf("usage: /open <number|id>")
		return
	}

	partner, ok := a.lookup(args[0])
	if !ok {
		a.out.printf("No such user in the last /users list.")
		return
	}

	if err := a.session.SelectPartner(ctx, partner); err != nil {
		// A failed history load keeps the selection and was already notified.
		if sel, ok := a.session.Selection(); ok && sel.ID == partner.ID {
			return
		}
		a.report(err)
		return
	}

	a.out.printf("-- %s --", partner.Name)
	a.printConversation()
}

func (a *app) lookup(ref string) (user.User, bool) {
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(a.users) {
		return a.users[n-1], true
	}
	for _, u := range a.users {
		if u.ID == ref {
			return u, true
		}
	}
	return user.User{}, false
}

func (a *app) sendImage(ctx context.Context, rest string) {
	path, caption, _ := strings.Cut(strings.TrimSpace(rest), " ")
	if path == "" {
		a.out.printf("usage: /image <path> [caption]")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		a.report(err)
		return
	}
	defer f.Close()

	contentType, err := detectImageType(f, path)
	if err != nil {
		a.report(err)
		return
	}

	a.send(ctx, caption, &messenger.Image{
		Filename:    filepath.Base(path),
		ContentType: contentType,
		Body:        f,
	})
}

// detectImageType prefers the extension and falls back to sniffing the content.
func detectImageType(f *os.File, path string) (string, error) {
	if mime, ok := message.ExtToMIME[strings.ToLower(filepath.Ext(path))]; ok {
		return mime, nil
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind %s: %w", path, err)
	}

	return http.DetectContentType(head[:n]), nil
}

func (a *app) send(ctx context.Context, text string, img *messenger.Image) {
	m, err := a.session.Send(ctx, text, img)
	if err != nil {
		a.report(err)
		return
	}
	a.printMessage(m)
}

func (a *app) printConversation() {
	msgs := a.session.Messages()
	if len(msgs) == 0 {
		a.out.printf("(no messages yet)")
		return
	}
	for _, m := range msgs {
		a.printMessage(m)
	}
}

func (a *app) printMessage(m message.Message) {
	who := "them"
	if self, ok := a.session.Self(); ok && m.SenderID == self.ID {
		who = "you"
	} else if partner, ok := a.session.Selection(); ok && m.SenderID == partner.ID {
		who = partner.Name
	}

	stamp := m.CreatedAt.Local().Format("15:04")
	if m.Text != "" {
		a.out.printf("[%s] %s: %s", stamp, who, m.Text)
	}
	if m.Image != "" {
		a.out.printf("[%s] %s: <image> %s", stamp, who, a.session.ImageURL(m))
	}
}

func (a *app) report(err error) {
	switch {
	case errors.Is(err, messenger.ErrNoSession):
		a.out.printf("! Log in first.")
	case errors.Is(err, messenger.ErrNoSelection):
		a.out.printf("! Open a conversation with /open first.")
	case errors.Is(err, messenger.ErrEmptyMessage), errors.Is(err, messenger.ErrNotImage):
		a.out.printf("! %s", strings.TrimPrefix(err.Error(), "messenger: "))
	default:
		a.out.printf("! %v", err)
	}
}
