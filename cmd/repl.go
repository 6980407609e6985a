package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"peerchat/client"
	"peerchat/models"
	"peerchat/peer"
)

const replHelp = `commands:
  msg <friend> <text>   send a message
  request <user>        send a friend request
  accept <user>         accept a friend request
  reject <user>         reject a friend request
  friends               list friends
  online                list online friends
  pending               list pending requests
  search <user>         look up a user
  chats                 list open chats
  exit                  log out and quit`

// repl is the line interface of the chat command. Received messages are
// printed by one watcher goroutine per open chat.
type repl struct {
	session *client.Session
	out     io.Writer

	outMu sync.Mutex

	mu       sync.Mutex
	ctx      context.Context
	watching map[string]bool
}

// newREPL must run before Login so pushed events reach the watchers.
func newREPL(session *client.Session, out io.Writer) *repl {
	r := &repl{
		session:  session,
		out:      out,
		ctx:      context.Background(),
		watching: make(map[string]bool),
	}
	session.OnEvent(r.onEvent)
	return r
}

func (r *repl) printf(format string, args ...any) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()

	r.greet(ctx)
	for _, contact := range r.session.ActiveChats() {
		r.watch(contact)
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		r.printf(">> ")
		select {
		case <-ctx.Done():
			r.printf("\n")
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if r.exec(ctx, line) {
				return nil
			}
		}
	}
}

func (r *repl) greet(ctx context.Context) {
	r.printf("logged in as %s\n", r.session.Username())
	if friends, err := r.session.Friends(ctx); err == nil {
		r.printList("friends", friends)
	}
	if online, err := r.session.OnlineFriends(ctx); err == nil {
		r.printList("online", online)
	}
	if pending, err := r.session.PendingFriendRequests(ctx); err == nil && len(pending) > 0 {
		r.printList("pending requests", pending)
	}
	r.printf("%s\n", replHelp)
}

func (r *repl) printList(title string, names []string) {
	if len(names) == 0 {
		r.printf("%s: none\n", title)
		return
	}
	r.printf("%s: %s\n", title, strings.Join(names, ", "))
}

// exec runs one command line and reports whether the REPL should quit.
func (r *repl) exec(ctx context.Context, line string) bool {
	parts := strings.SplitN(strings.TrimSpace(line), " ", 3)
	command := strings.ToLower(parts[0])
	arg := func(i int) (string, bool) {
		if len(parts) <= i || parts[i] == "" {
			r.printf("usage: see help\n")
			return "", false
		}
		return parts[i], true
	}

	switch command {
	case "":
	case "exit", "quit":
		return true
	case "help":
		r.printf("%s\n", replHelp)
	case "msg":
		friend, ok := arg(1)
		if !ok {
			break
		}
		text, ok := arg(2)
		if !ok {
			break
		}
		r.send(ctx, friend, text)
	case "request":
		if user, ok := arg(1); ok {
			sent, err := r.session.SendFriendRequest(ctx, user)
			r.report(err, sent, "friend request sent to "+user, "friend request to "+user+" not sent")
		}
	case "accept":
		if user, ok := arg(1); ok {
			accepted, err := r.session.AcceptFriendRequest(ctx, user)
			r.report(err, accepted, "accepted "+user, "no pending request from "+user)
		}
	case "reject":
		if user, ok := arg(1); ok {
			rejected, err := r.session.RejectFriendRequest(ctx, user)
			r.report(err, rejected, "rejected "+user, "no pending request from "+user)
		}
	case "friends":
		r.list(ctx, "friends", r.session.Friends)
	case "online":
		r.list(ctx, "online", r.session.OnlineFriends)
	case "pending":
		r.list(ctx, "pending requests", r.session.PendingFriendRequests)
	case "search":
		if user, ok := arg(1); ok {
			found, err := r.session.SearchUsers(ctx, user)
			r.report(err, len(found) > 0, "found "+user, "no user "+user)
		}
	case "chats":
		r.printList("chats", r.session.ActiveChats())
	default:
		r.printf("unknown command %q, try help\n", command)
	}
	return false
}

func (r *repl) send(ctx context.Context, friend, text string) {
	err := r.session.SendMessage(ctx, friend, text)
	switch {
	case err == nil:
	case errors.Is(err, client.ErrNoChat):
		r.printf("no chat with %s (not a friend or offline)\n", friend)
	case errors.Is(err, peer.ErrPeerNotReady):
		r.printf("%s has not opened the chat yet, try again\n", friend)
	case errors.Is(err, peer.ErrPeerUnreachable):
		r.printf("%s is unreachable\n", friend)
	default:
		r.printf("send failed: %v\n", err)
	}
}

func (r *repl) report(err error, ok bool, success, failure string) {
	switch {
	case err != nil:
		r.printf("error: %v\n", err)
	case ok:
		r.printf("%s\n", success)
	default:
		r.printf("%s\n", failure)
	}
}

func (r *repl) list(ctx context.Context, title string, fetch func(context.Context) ([]string, error)) {
	names, err := fetch(ctx)
	if err != nil {
		r.printf("error: %v\n", err)
		return
	}
	r.printList(title, names)
}

func (r *repl) onEvent(ev models.Event) {
	switch ev.Kind {
	case models.EventPeerConnected:
		r.printf("\n* %s is online\n", ev.Username)
		r.watch(ev.Username)
	case models.EventPeerDisconnected:
		r.printf("\n* %s went offline\n", ev.Username)
	case models.EventFriendRequestReceived:
		r.printf("\n* friend request from %s (accept %s)\n", ev.Username, ev.Username)
	case models.EventFriendshipAccepted:
		r.printf("\n* you and %s are now friends\n", ev.Username)
		r.watch(ev.Username)
	}
}

// watch starts printing messages from contact unless a watcher already runs.
func (r *repl) watch(contact string) {
	r.mu.Lock()
	if r.watching[contact] {
		r.mu.Unlock()
		return
	}
	r.watching[contact] = true
	ctx := r.ctx
	r.mu.Unlock()

	go func() {
		for {
			msg, err := r.session.WaitMessage(ctx, contact)
			if err == nil {
				r.printf("\n[%s]: %s\n", contact, msg)
				continue
			}
			if errors.Is(err, peer.ErrClosed) {
				// the chat was replaced or removed; the next wait tells which
				continue
			}

			r.mu.Lock()
			if ctx.Err() == nil && slices.Contains(r.session.ActiveChats(), contact) {
				r.mu.Unlock()
				continue
			}
			delete(r.watching, contact)
			r.mu.Unlock()
			return
		}
	}()
}
