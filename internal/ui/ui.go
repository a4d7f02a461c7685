package ui

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/bz888/convo/internal/chat"
	"github.com/bz888/convo/internal/config"
	"github.com/bz888/convo/internal/feedback"
	"github.com/bz888/convo/internal/logger"
	"github.com/bz888/convo/internal/speech"
)

var app *tview.Application

var (
	debugConsole *tview.TextView
	chatView     *tview.TextView
	sessionList  *tview.List
	statusBar    *tview.TextView
	inputArea    *tview.TextArea
	localLogger  *logger.Logger

	conv      *chat.Controller
	fb        *feedback.Controller
	dictation *speech.Dictation
	recorder  *speech.Recorder
)

func Init() {
	app = tview.NewApplication()
	app.EnablePaste(true)
	app.EnableMouse(true)

	debugConsole = initDebugConsole()
	chatView = initChatViewer()
	sessionList = initSessionList()
	statusBar = initStatusBar()
	inputArea = initChatInput()
}

func initChatViewer() *tview.TextView {
	view := tview.NewTextView().
		SetChangedFunc(func() {
			app.Draw()
		}).
		SetDynamicColors(true).
		SetWordWrap(true)

	view.SetTitle("Conversation").SetBorder(true)
	view.SetScrollable(true)
	view.ScrollToEnd()
	return view
}

func initSessionList() *tview.List {
	list := tview.NewList().ShowSecondaryText(true)
	list.SetTitle("History").SetBorder(true)
	return list
}

func initStatusBar() *tview.TextView {
	return tview.NewTextView().SetDynamicColors(true)
}

func initChatInput() *tview.TextArea {
	area := tview.NewTextArea()
	area.SetTitle("Question").SetBorder(true)
	return area
}

func initDebugConsole() *tview.TextView {
	console := tview.NewTextView().
		SetChangedFunc(func() {
			app.Draw()
		}).
		SetDynamicColors(true).
		SetWordWrap(true)

	console.SetTitle("Debugger").SetBorder(true)
	console.ScrollToEnd()
	return console
}

func GetDebugConsole() (*tview.TextView, error) {
	if debugConsole == nil {
		return nil, errors.New("debug console not initialized")
	}
	return debugConsole, nil
}

func Run(controller *chat.Controller, feedbackCtrl *feedback.Controller, dict *speech.Dictation, rec *speech.Recorder) {
	conv = controller
	fb = feedbackCtrl
	dictation = dict
	recorder = rec
	localLogger = logger.NewLogger("views")

	conv.OnChange(func() {
		app.QueueUpdateDraw(render)
	})
	if dictation != nil {
		dictation.OnChange(func() {
			app.QueueUpdateDraw(renderStatus)
		})
	}
	if recorder != nil {
		recorder.OnChange(func() {
			app.QueueUpdateDraw(renderStatus)
		})
	}

	chatView.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEnter {
			app.SetFocus(inputArea)
		}
		return event
	})

	conversation := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(chatView, 0, 1, false).
		AddItem(statusBar, 1, 0, false).
		AddItem(inputArea, 8, 2, true)

	mainFlex := tview.NewFlex().
		AddItem(sessionList, 28, 0, false).
		AddItem(conversation, 0, 2, true)

	if config.Dev {
		mainFlex.AddItem(debugConsole, 0, 1, false)
	}

	pages := tview.NewPages().AddPage("main", mainFlex, true, true)

	setInputCapture(mainFlex, pages)

	go conv.RefreshSessions()

	if err := app.SetRoot(pages, true).SetFocus(inputArea).Run(); err != nil {
		panic(err)
	}
}

func setInputCapture(mainFlex *tview.Flex, pages *tview.Pages) {
	inputArea.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyESC:
			if chatView.GetText(false) != "" {
				app.SetFocus(chatView)
			}
		case tcell.KeyEnter:
			content := inputArea.GetText()
			if strings.TrimSpace(content) == "" {
				return nil
			}

			if strings.HasPrefix(strings.TrimSpace(content), "/") {
				inputArea.SetText("", true)
				runCommand(strings.TrimSpace(content), mainFlex, pages)
				return nil
			}

			inputArea.SetText("", true)
			go func() {
				if err := conv.SubmitMessage(content); err != nil {
					localLogger.Error("Failed to submit message: ", err)
				}
			}()
			return nil
		}
		return event
	})

	sessionList.SetSelectedFunc(func(index int, _ string, _ string, _ rune) {
		sessions := conv.Sessions()
		if index < 0 || index >= len(sessions) {
			return
		}
		go conv.SelectSession(sessions[index])
	})
}

func runCommand(content string, mainFlex *tview.Flex, pages *tview.Pages) {
	fields := strings.Fields(content)
	switch fields[0] {
	case "/help":
		listHelp()
	case "/bye", "/quit", "/exit":
		quitApp()
	case "/debug":
		toggleDebugConsole(mainFlex)
	case "/new":
		go conv.StartNewChat()
	case "/history":
		go conv.RefreshSessions()
	case "/delete":
		if len(fields) < 2 {
			fmt.Fprintf(chatView, "\nUsage: /delete <session number>\n")
			return
		}
		deleteSessionCommand(fields[1])
	case "/deleteall":
		confirmDeleteAll(pages)
	case "/image":
		if len(fields) < 2 {
			fmt.Fprintf(chatView, "\nUsage: /image <path>\n")
			return
		}
		imageCommand(strings.Join(fields[1:], " "))
	case "/voice":
		voiceCommand(false)
	case "/voicemsg":
		voiceCommand(true)
	case "/dictate":
		dictateCommand()
	case "/feedback":
		if len(fields) < 3 {
			fmt.Fprintf(chatView, "\nUsage: /feedback <response number> <kind>\n")
			return
		}
		feedbackCommand(fields[1], fields[2])
	default:
		fmt.Fprintf(chatView, "\nUnknown command %s, try /help\n", fields[0])
	}
}

func deleteSessionCommand(arg string) {
	index, err := strconv.Atoi(arg)
	if err != nil {
		fmt.Fprintf(chatView, "\nNot a session number: %s\n", arg)
		return
	}
	sessions := conv.Sessions()
	if index < 1 || index > len(sessions) {
		fmt.Fprintf(chatView, "\nNo session %d\n", index)
		return
	}
	target := sessions[index-1]
	go func() {
		if err := conv.DeleteSession(target.SessionID); err != nil {
			app.QueueUpdateDraw(func() {
				fmt.Fprintf(chatView, "\n[red::]Failed to delete session: %s[-]\n", err)
			})
		}
	}()
}

func confirmDeleteAll(pages *tview.Pages) {
	modal := tview.NewModal().
		SetText("Are you sure you want to delete all chat history? This cannot be undone.").
		AddButtons([]string{"Delete", "Cancel"}).
		SetDoneFunc(func(_ int, label string) {
			pages.RemovePage("confirmModal")
			app.SetFocus(inputArea)
			if label != "Delete" {
				return
			}
			go func() {
				if err := conv.DeleteAllHistory(true); err != nil {
					app.QueueUpdateDraw(func() {
						fmt.Fprintf(chatView, "\n[red::]Failed to delete history: %s[-]\n", err)
					})
				}
			}()
		})
	pages.AddPage("confirmModal", modal, true, true)
}

func imageCommand(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(chatView, "\nCould not read image: %s\n", err)
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	conv.SetInput(inputArea.GetText())
	go func() {
		err := conv.UploadImage(data, filepath.Base(path), "file://"+abs)
		app.QueueUpdateDraw(func() {
			inputArea.SetText(conv.Input(), true)
			if err != nil {
				localLogger.Error("Failed to upload image: ", err)
			}
		})
	}()
}

func voiceCommand(send bool) {
	if recorder == nil || !recorder.Supported() {
		fmt.Fprintf(chatView, "\nVoice recording is not available on this machine\n")
		return
	}

	if recorder.State() == speech.RecorderRecording {
		go func() {
			if send {
				recorder.StopSend(conv.SubmitVoice)
			} else {
				recorder.Stop()
			}
			app.QueueUpdateDraw(func() {
				inputArea.SetText(conv.Input(), true)
			})
		}()
		return
	}

	go func() {
		if err := recorder.Start(); err != nil {
			localLogger.Error("Failed to start recording: ", err)
		}
	}()
}

func dictateCommand() {
	if dictation == nil || !dictation.Supported() {
		fmt.Fprintf(chatView, "\nLive dictation is not available, set SILERO_MODEL_PATH to enable it\n")
		return
	}

	go func() {
		if err := dictation.Toggle(); err != nil {
			localLogger.Error("Failed to toggle dictation: ", err)
		}
	}()
}

func feedbackCommand(arg string, kindName string) {
	kind, err := feedback.ParseKind(kindName)
	if err != nil {
		fmt.Fprintf(chatView, "\n%s\n", err)
		return
	}

	index, err := strconv.Atoi(arg)
	if err != nil {
		fmt.Fprintf(chatView, "\nNot a response number: %s\n", arg)
		return
	}

	var ratable []chat.Message
	for _, m := range conv.Messages() {
		if m.Sender == chat.SenderAI && m.InteractionID != "" {
			ratable = append(ratable, m)
		}
	}
	if index < 1 || index > len(ratable) {
		fmt.Fprintf(chatView, "\nNo ratable response %d\n", index)
		return
	}

	target := ratable[index-1]
	go func() {
		if err := fb.Submit(target.InteractionID, target.SessionID, kind); err != nil {
			app.QueueUpdateDraw(func() {
				fmt.Fprintf(chatView, "\n[red::]Failed to submit feedback: %s[-]\n", err)
			})
		}
	}()
}

// render redraws the conversation and the sidebar from the controller
// snapshot.
func render() {
	chatView.Clear()
	ratable := 0
	for _, msg := range conv.Messages() {
		if msg.Sender == chat.SenderUser {
			fmt.Fprintf(chatView, "\n[red::]You:[-]\n")
			if msg.ImageName != "" {
				fmt.Fprintf(chatView, "[%s]\n", tview.Escape(msg.ImageName))
			}
			fmt.Fprintf(chatView, "%s\n", msg.Text)
			continue
		}

		fmt.Fprintf(chatView, "\n[green::]Bot:[-]\n")
		if msg.IsLoading {
			fmt.Fprintf(chatView, "[gray::]thinking...[-]\n")
			continue
		}
		fmt.Fprintf(chatView, "%s\n", msg.Text)
		if msg.LanguageName != "" {
			fmt.Fprintf(chatView, "[gray::]language: %s (%.0f%%)[-]\n", msg.LanguageName, msg.Confidence*100)
		}
		if msg.InteractionID != "" {
			ratable++
			if msg.FeedbackSubmitted != "" {
				fmt.Fprintf(chatView, "[gray::]#%d %s, %s[-]\n", ratable, msg.FeedbackSubmitted, msg.FeedbackMessage)
			} else {
				fmt.Fprintf(chatView, "[gray::]#%d rate with /feedback %d <kind>[-]\n", ratable, ratable)
			}
		}
	}
	chatView.ScrollToEnd()

	sessionList.Clear()
	for _, session := range conv.Sessions() {
		title := session.SessionTitle
		if title == "" {
			title = session.SessionID
		}
		sessionList.AddItem(title, fmt.Sprintf("%d messages", session.MessageCount), 0, nil)
	}

	renderStatus()
}

func renderStatus() {
	statusBar.Clear()

	if conv.IsLoading() {
		fmt.Fprintf(statusBar, "[yellow::]working...[-] ")
	}
	if recorder != nil {
		switch recorder.State() {
		case speech.RecorderRecording:
			fmt.Fprintf(statusBar, "[red::]recording[-] ")
		case speech.RecorderConverting:
			fmt.Fprintf(statusBar, "[yellow::]converting...[-] ")
		}
	}
	if dictation != nil {
		switch dictation.State() {
		case speech.DictationListening:
			if interim := dictation.InterimText(); interim != "" {
				fmt.Fprintf(statusBar, "[blue::]listening: %s[-]", tview.Escape(interim))
			} else {
				fmt.Fprintf(statusBar, "[blue::]listening...[-]")
			}
		case speech.DictationError:
			if err := dictation.Err(); err != nil {
				fmt.Fprintf(statusBar, "[red::]voice error: %s[-]", tview.Escape(err.Error()))
			}
		}
	}
}

func toggleDebugConsole(mainFlex *tview.Flex) {
	go func() {
		if mainFlex.GetItemCount() < 3 {
			app.QueueUpdateDraw(func() {
				mainFlex.AddItem(debugConsole, 0, 1, false)
				fmt.Fprintf(chatView, "\nDebug console enabled\n")
			})
		} else {
			app.QueueUpdateDraw(func() {
				mainFlex.RemoveItem(debugConsole)
				fmt.Fprintf(chatView, "\nDebug console disabled\n")
			})
		}
	}()
}

func quitApp() {
	fmt.Fprintf(chatView, "Bye bye\n")
	localLogger.Close()
	app.Stop()
}

func listHelp() {
	fmt.Fprintf(chatView, "\n[green::]Commands:[-]\n")
	fmt.Fprintf(chatView, "- /help: Display this help message\n")
	fmt.Fprintf(chatView, "- /new: Start a new conversation\n")
	fmt.Fprintf(chatView, "- /history: Refresh the session list\n")
	fmt.Fprintf(chatView, "- /delete <n>: Delete session n from the sidebar\n")
	fmt.Fprintf(chatView, "- /deleteall: Delete all chat history\n")
	fmt.Fprintf(chatView, "- /image <path>: Send an image with the composed text\n")
	fmt.Fprintf(chatView, "- /voice: Record, transcribe into the input box\n")
	fmt.Fprintf(chatView, "- /voicemsg: Record, send as a voice message\n")
	fmt.Fprintf(chatView, "- /dictate: Toggle live dictation\n")
	fmt.Fprintf(chatView, "- /feedback <n> <kind>: Rate response n (thumbs_up, thumbs_down, format_mismatch, too_long, too_short, off_topic)\n")
	fmt.Fprintf(chatView, "- /debug: Toggle the debug console\n")
	fmt.Fprintf(chatView, "- /bye: Exit the application\n")
}
