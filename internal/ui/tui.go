package ui

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// TUIDisplay renders chat data using tview.
type TUIDisplay struct {
	app      *tview.Application
	messages *tview.TextView
	input    *tview.InputField
	chats    *tview.List
	send     func(string)
	typed    func()
	once     sync.Once
}

// NewTUIDisplay builds the terminal layout. send receives the input line on
// enter; typed fires on every keystroke so the caller can drive the typing
// indicator.
func NewTUIDisplay(send func(string), typed func()) *TUIDisplay {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetRegions(false).
		SetScrollable(true)
	messages.SetBorder(true).SetTitle("Messages")

	chats := tview.NewList()
	chats.SetBorder(true).SetTitle("Chats")

	input := tview.NewInputField().
		SetLabel("> ").
		SetFieldTextColor(tcell.ColorWhite)

	td := &TUIDisplay{
		app:      tview.NewApplication(),
		messages: messages,
		input:    input,
		chats:    chats,
		send:     send,
		typed:    typed,
	}

	input.SetChangedFunc(func(text string) {
		if td.typed != nil && strings.TrimSpace(text) != "" {
			td.typed()
		}
	})
	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			text := strings.TrimSpace(input.GetText())
			if text != "" {
				go td.send(text)
			}
			input.SetText("")
		}
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 5, false).
		AddItem(chats, 10, 1, false).
		AddItem(input, 3, 1, true)

	td.app.SetRoot(layout, true).EnableMouse(true)
	return td
}

func (t *TUIDisplay) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		t.once.Do(func() {
			t.app.Stop()
		})
	}()
	return t.app.Run()
}

func (t *TUIDisplay) ShowMessage(msg MessageView) {
	ts := msg.At.Format("15:04:05")
	nameColor := "lightgreen"
	if msg.Own {
		nameColor = "violet"
	}
	content := fmt.Sprintf("[yellow][%s][-] [%s]%s[-]: %s", ts, nameColor, msg.Sender, msg.Content)
	switch msg.State {
	case "pending":
		content += " [gray](sending)[-]"
	case "failed":
		content += " [red](failed)[-]"
	}
	if msg.ImageURL != "" {
		content += fmt.Sprintf(" [orange](image: %s)[-]", msg.ImageURL)
	}
	content += "\n"
	t.app.QueueUpdateDraw(func() {
		fmt.Fprint(t.messages, content)
	})
}

func (t *TUIDisplay) ShowSystem(text string) {
	content := fmt.Sprintf("[green]>>> %s[-]\n", text)
	t.app.QueueUpdateDraw(func() {
		fmt.Fprint(t.messages, content)
	})
}

func (t *TUIDisplay) UpdateChats(entries []ChatEntry) {
	t.app.QueueUpdateDraw(func() {
		t.chats.Clear()
		for _, e := range entries {
			status := "offline"
			if e.Online {
				status = "online"
			}
			label := fmt.Sprintf("%s (%s)", e.Name, status)
			if e.UnreadCount > 0 {
				label += fmt.Sprintf(" [%d unread]", e.UnreadCount)
			}
			t.chats.AddItem(label, "", 0, nil)
		}
	})
}

func (t *TUIDisplay) ShowTyping(name string, typing bool) {
	if !typing {
		return
	}
	content := fmt.Sprintf("[gray]... %s is typing[-]\n", name)
	t.app.QueueUpdateDraw(func() {
		fmt.Fprint(t.messages, content)
	})
}

func (t *TUIDisplay) ShowNotification(n Notification) {
	content := fmt.Sprintf("[orange]** %s [-] %s\n", strings.ToUpper(n.Level), n.Text)
	t.app.QueueUpdateDraw(func() {
		fmt.Fprint(t.messages, content)
	})
}
