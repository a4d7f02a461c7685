package cmd

import (
	"log"

	"github.com/bz888/convo/internal/api"
	"github.com/bz888/convo/internal/chat"
	"github.com/bz888/convo/internal/config"
	"github.com/bz888/convo/internal/feedback"
	"github.com/bz888/convo/internal/logger"
	"github.com/bz888/convo/internal/speech"
	"github.com/bz888/convo/internal/ui"
)

func init() {
	config.Init()
}

func Execute() {
	ui.Init()
	debugConsole, err := ui.GetDebugConsole()
	if err != nil {
		log.Fatal(err)
	}

	logger.InitLogger(config.Dev, config.LogPath, debugConsole)

	client := api.NewClient(config.BackendURL)
	controller := chat.NewController(client)
	feedbackCtrl := feedback.NewController(client, controller)

	var dictation *speech.Dictation
	engine, err := speech.NewLiveEngine(client, controller.Registry(), config.SileroModelPath)
	if err != nil {
		// No VAD model on this machine, the dictation control stays hidden.
		dictation = speech.NewDictation(nil, controller.AppendInput)
	} else {
		dictation = speech.NewDictation(engine, controller.AppendInput)
	}

	recorder := speech.NewRecorder(speech.NewMicSource, client, controller.Registry(), controller.SetInput)

	ui.Run(controller, feedbackCtrl, dictation, recorder)
}
