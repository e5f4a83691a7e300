package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tourbook/internal/client"
	"tourbook/internal/domain"
	"tourbook/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const usage = `usage: tourctl [flags] <command> [args]

commands:
  login <email> <password>
  logout
  whoami
  tours
  tour <id>
  book <tour> <yyyy-mm-dd> <people> <name> <phone> [note]
  mine
  board [status] [query]
  confirm <booking>
  cancel <booking>
  pay <booking> bank|ewallet
  pay <booking> card <holder> <number> <mm/yy> <cvv>
  reviews <tour>
  review <tour> <rating> <comment>
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, domain.ErrAuth) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run() error {
	home, _ := os.UserHomeDir()
	var (
		baseURL     = flag.String("url", envOr("TOURBOOK_URL", "http://localhost:8080"), "API base URL")
		sessionPath = flag.String("session", filepath.Join(home, ".tourbook", "session.json"), "where the login is kept")
		redisAddr   = flag.String("redis", os.Getenv("TOURBOOK_REDIS"), "optional redis address for caching the tour list")
		timeout     = flag.Duration("timeout", client.DefaultTimeout, "request timeout")
		verbose     = flag.Bool("v", false, "log requests to stderr")
	)
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return errors.New("missing command")
	}

	if *sessionPath != "" {
		if err := os.MkdirAll(filepath.Dir(*sessionPath), 0o700); err != nil {
			return fmt.Errorf("session dir: %w", err)
		}
	}
	c, err := client.NewClient(*baseURL, *sessionPath)
	if err != nil {
		return err
	}
	c.SetTimeout(*timeout)

	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()
	c.SetLogger(&logger)

	if *redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		defer rdb.Close()
		c.UseRedisCache(rdb, 5*time.Minute)
	}

	ctx := context.Background()
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		if err := need(rest, 2); err != nil {
			return err
		}
		user, err := c.Session().Login(ctx, rest[0], rest[1])
		if err != nil {
			return err
		}
		fmt.Printf("signed in as %s (%s)\n", user.Name, user.Role)
	case "logout":
		return c.Session().Logout(ctx)
	case "whoami":
		user, err := c.Session().Refresh(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s <%s> %s\n", user.Name, user.Email, user.Role)
	case "tours":
		tours, err := c.Tours(ctx)
		if err != nil {
			return err
		}
		for _, t := range tours {
			fmt.Printf("%-24s %-40s %12s  %s\n", t.ID, t.Title, models.FormatVND(t.Price), t.Duration)
		}
	case "tour":
		if err := need(rest, 1); err != nil {
			return err
		}
		t, discount, err := c.Tour(ctx, rest[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s\n%s\nprice: %s", t.Title, t.Description, models.FormatVND(t.Price))
		if discount > 0 {
			fmt.Printf(" (-%d%%)", discount)
		}
		fmt.Println()
	case "book":
		return book(ctx, c, rest)
	case "mine":
		bookings, err := c.MyBookings(ctx)
		if err != nil {
			return err
		}
		printBookings(bookings)
	case "board":
		board := client.NewBookingBoard(c)
		if err := board.Refresh(ctx); err != nil {
			return err
		}
		var filter models.BookingFilter
		if len(rest) > 0 {
			filter.Status = rest[0]
		}
		if len(rest) > 1 {
			filter.Query = strings.Join(rest[1:], " ")
		}
		printBookings(board.Visible(filter))
	case "confirm", "cancel":
		if err := need(rest, 1); err != nil {
			return err
		}
		board := client.NewBookingBoard(c)
		if err := board.Refresh(ctx); err != nil {
			return err
		}
		transition := board.Confirm
		if cmd == "cancel" {
			transition = board.Cancel
		}
		b, err := transition(ctx, rest[0])
		if err != nil {
			return err
		}
		printBookings([]models.Booking{*b})
	case "pay":
		return pay(ctx, c, rest)
	case "reviews":
		if err := need(rest, 1); err != nil {
			return err
		}
		list, err := c.TourReviews(ctx, rest[0])
		if err != nil {
			return err
		}
		printReviews(list)
	case "review":
		if err := need(rest, 3); err != nil {
			return err
		}
		rating, err := strconv.Atoi(rest[1])
		if err != nil {
			return fmt.Errorf("rating must be a number: %w", domain.ErrValidation)
		}
		list, err := c.TourReviews(ctx, rest[0])
		if err != nil {
			return err
		}
		if _, err := list.Submit(ctx, rating, strings.Join(rest[2:], " ")); err != nil {
			return err
		}
		printReviews(list)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func book(ctx context.Context, c *client.Client, args []string) error {
	if err := need(args, 5); err != nil {
		return err
	}
	people, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("people must be a number: %w", domain.ErrValidation)
	}
	form := domain.BookingRequest{
		TourID: args[0],
		Date:   args[1],
		People: people,
		Name:   args[3],
		Phone:  args[4],
	}
	if len(args) > 5 {
		form.Note = strings.Join(args[5:], " ")
	}
	b, err := c.CreateBooking(ctx, form)
	if err != nil {
		return err
	}
	fmt.Printf("booking %s created, status %s, total %s\n", b.ShortID(), b.Status, models.FormatVND(b.Total()))
	return nil
}

func pay(ctx context.Context, c *client.Client, args []string) error {
	if err := need(args, 2); err != nil {
		return err
	}
	req := domain.PaymentRequest{Method: args[1]}
	if req.Method == models.PaymentCard {
		if err := need(args, 6); err != nil {
			return err
		}
		req.Card = &domain.CardDetails{Name: args[2], Number: args[3], Expiry: args[4], CVV: args[5]}
	}

	p := client.NewPaymentInitiator(c)
	summary, err := p.Pay(ctx, args[0], req)
	if err != nil {
		return err
	}
	fmt.Printf("paid %s for booking %s\n", models.FormatVND(summary.Total), summary.Booking.ShortID())
	if req.Method == models.PaymentBank {
		bt := summary.BankTransfer
		fmt.Printf("transfer to %s, %s %s, reference %q\n", bt.BankName, bt.AccountName, bt.AccountNumber, bt.Reference)
	}
	return nil
}

func printBookings(bookings []models.Booking) {
	for i := range bookings {
		b := &bookings[i]
		paid := ""
		if b.IsPaid() {
			paid = "paid"
		}
		fmt.Printf("%s  %s  %-10s %-4s %-30s %2d x %s = %s\n",
			b.ShortID(), b.Date.Format(models.DateLayout), b.Status, paid,
			b.TourTitle, b.People, models.FormatVND(b.TourPrice), models.FormatVND(b.Total()))
	}
}

func printReviews(list *client.ReviewList) {
	summary := list.Summary()
	fmt.Printf("rating %s (%d)\n", summary.Display, summary.Count)
	for _, r := range list.Reviews() {
		fmt.Printf("  %d/5 %s: %s\n", r.Rating, r.UserName, r.Comment)
	}
}

func need(args []string, n int) error {
	if len(args) < n {
		return fmt.Errorf("expected %d arguments, got %d: %w", n, len(args), domain.ErrValidation)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
