package ui

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset = "\x1b[0m"
	ansiTime  = "\x1b[36m"
	ansiName  = "\x1b[33m"
	ansiOwn   = "\x1b[35m"
	ansiSys   = "\x1b[32m"
	ansiWarn  = "\x1b[31m"
)

// CLIDisplay renders chat events to stdout.
type CLIDisplay struct {
	color bool
	mu    sync.Mutex
}

func NewCLIDisplay(color bool) *CLIDisplay {
	return &CLIDisplay{color: color}
}

func (c *CLIDisplay) ShowMessage(msg MessageView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Println(c.formatLine(msg))
}

func (c *CLIDisplay) ShowSystem(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := time.Now().Format("15:04:05")
	if c.color {
		fmt.Printf("%s[%s]%s %sSYSTEM%s: %s\n", ansiTime, ts, ansiReset, ansiSys, ansiReset, text)
		return
	}
	fmt.Printf("[%s] SYSTEM: %s\n", ts, text)
}

func (c *CLIDisplay) UpdateChats(entries []ChatEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(entries) == 0 {
		return
	}
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		label := e.Name
		if e.Online {
			label += "*"
		}
		if e.UnreadCount > 0 {
			label += fmt.Sprintf(" (%d)", e.UnreadCount)
		}
		parts = append(parts, label)
	}
	msg := strings.Join(parts, ", ")
	if c.color {
		fmt.Printf("%s[chats]%s %s\n", ansiSys, ansiReset, msg)
		return
	}
	fmt.Printf("[chats] %s\n", msg)
}

func (c *CLIDisplay) ShowTyping(name string, typing bool) {
	if !typing {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.color {
		fmt.Printf("%s... %s is typing%s\n", ansiSys, name, ansiReset)
		return
	}
	fmt.Printf("... %s is typing\n", name)
}

func (c *CLIDisplay) ShowNotification(n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := n.Timestamp.Format("15:04:05")
	prefix := "NOTIFY"
	if n.Level != "" {
		prefix = strings.ToUpper(n.Level)
	}
	line := fmt.Sprintf("[%s] %s: %s", ts, prefix, n.Text)
	if c.color {
		fmt.Printf("%s%s%s\n", ansiSys, line, ansiReset)
		return
	}
	fmt.Println(line)
}

func (c *CLIDisplay) formatLine(msg MessageView) string {
	ts := msg.At.Format("15:04:05")
	suffix := ""
	switch msg.State {
	case "pending":
		suffix = " [sending]"
	case "failed":
		suffix = " [failed, /retry to resend]"
	}
	if msg.ImageURL != "" {
		suffix += fmt.Sprintf(" [image: %s]", msg.ImageURL)
	}
	if c.color {
		nameColor := ansiName
		if msg.Own {
			nameColor = ansiOwn
		}
		stateColor := ""
		if msg.State == "failed" {
			stateColor = ansiWarn
		}
		return fmt.Sprintf("%s[%s]%s %s%s%s: %s%s%s%s",
			ansiTime, ts, ansiReset, nameColor, msg.Sender, ansiReset, msg.Content, stateColor, suffix, ansiReset)
	}
	return fmt.Sprintf("[%s] %s: %s%s", ts, msg.Sender, msg.Content, suffix)
}

// ShouldUseColor determines if ANSI coloring should be enabled for CLI output.
func ShouldUseColor(disable bool) bool {
	if disable {
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if runtime.GOOS == "windows" {
		if os.Getenv("WT_SESSION") != "" || os.Getenv("ANSICON") != "" || strings.EqualFold(os.Getenv("ConEmuANSI"), "ON") {
			return true
		}
		return false
	}
	return true
}
