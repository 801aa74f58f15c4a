package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/obiente/translate/luaspeech/internal/audio"
	"github.com/obiente/translate/luaspeech/internal/luabind"
)

func newRunCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "run <script.lua> [args...]",
		Short: "Run a Lua script with the speech module available",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// scripts call speech.init themselves
			sess, _, err := openSession(cmd, load, false)
			if err != nil {
				return err
			}
			mod := luabind.New(sess, log.Logger)
			defer mod.Close()
			return mod.Run(cmd.Context(), args[0], args[1:])
		},
	}
}

func newTranscribeCmd(load loadFunc) *cobra.Command {
	var maxCandidates int
	cmd := &cobra.Command{
		Use:   "transcribe <file.wav>",
		Short: "Transcribe a WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, _, err := openSession(cmd, load, true)
			if err != nil {
				return err
			}
			defer sess.Close()

			samples, rate, err := audio.ReadWAVFile(args[0])
			if err != nil {
				return err
			}
			samples = audio.Resample(samples, rate, sess.SampleRate())
			in := audio.PCM(samples, len(samples))

			out := cmd.OutOrStdout()
			if maxCandidates <= 0 {
				text, err := sess.Decode(in)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, text)
				return err
			}
			md, err := sess.DecodeWithMetadata(in, maxCandidates)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(md)
		},
	}
	cmd.Flags().IntVar(&maxCandidates, "candidates", 0, "print up to n candidate transcripts as JSON")
	return cmd
}

func newListenCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Transcribe the default microphone until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, _, err := openSession(cmd, load, true)
			if err != nil {
				return err
			}
			defer sess.Close()

			capture, err := audio.NewCapture(sess.SampleRate())
			if err != nil {
				if errors.Is(err, audio.ErrCaptureUnavailable) {
					return fmt.Errorf("%w: rebuild with -tags portaudio", err)
				}
				return err
			}
			defer capture.Close()

			stream, err := sess.NewStream()
			if err != nil {
				return err
			}
			defer stream.Destroy()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			last := ""
			for ctx.Err() == nil {
				frame, err := capture.Read()
				if err != nil {
					return err
				}
				if err := stream.Feed(audio.PCM(frame, len(frame))); err != nil {
					return err
				}
				text, err := stream.Decode()
				if err != nil {
					return err
				}
				if text != last {
					fmt.Fprintf(out, "\r%s", text)
					last = text
				}
			}
			text, err := stream.Finish()
			fmt.Fprintf(out, "\r%s\n", text)
			return err
		},
	}
}
