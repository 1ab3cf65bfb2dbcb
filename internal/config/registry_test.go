package config_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/lorikeet/internal/config"
	"github.com/MrWong99/lorikeet/pkg/asr"
	asrmock "github.com/MrWong99/lorikeet/pkg/asr/mock"
)

func TestRegistry_CreateRecognizer(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	reg.RegisterRecognizer("mock", func(config.ASRConfig) (asr.Recognizer, error) {
		return &asrmock.Recognizer{}, nil
	})

	rec, err := reg.CreateRecognizer(config.ASRConfig{Engine: "mock"})
	if err != nil {
		t.Fatalf("CreateRecognizer: %v", err)
	}
	if rec == nil {
		t.Fatal("CreateRecognizer returned nil recognizer")
	}
}

func TestRegistry_UnregisteredEngine(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	_, err := reg.CreateRecognizer(config.ASRConfig{Engine: "nope"})
	if !errors.Is(err, config.ErrEngineNotRegistered) {
		t.Fatalf("err = %v, want ErrEngineNotRegistered", err)
	}

	_, err = reg.CreateClassifier(config.NeuralConfig{Engine: "nope"}, 16000)
	if !errors.Is(err, config.ErrEngineNotRegistered) {
		t.Fatalf("err = %v, want ErrEngineNotRegistered", err)
	}
}

func TestRegistry_OverwriteRegistration(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	first := &asrmock.Recognizer{}
	second := &asrmock.Recognizer{}
	reg.RegisterRecognizer("mock", func(config.ASRConfig) (asr.Recognizer, error) { return first, nil })
	reg.RegisterRecognizer("mock", func(config.ASRConfig) (asr.Recognizer, error) { return second, nil })

	rec, err := reg.CreateRecognizer(config.ASRConfig{Engine: "mock"})
	if err != nil {
		t.Fatalf("CreateRecognizer: %v", err)
	}
	if rec != second {
		t.Error("later registration should win")
	}
}
