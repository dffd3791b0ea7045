package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ayusman/watchpost/internal/face"
	"github.com/ayusman/watchpost/internal/store"
)

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Manage the identity gallery",
}

var galleryImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import identities from a binary gallery file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		records, err := face.ReadGalleryFile(bufio.NewReader(f))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}

		st, queue, err := openQueue(settings)
		if err != nil {
			return err
		}
		defer st.Close()
		queue.Start()
		defer queue.Stop()

		bar := progressbar.NewOptions(len(records),
			progressbar.OptionSetDescription("Importing gallery"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
		stored, err := face.ImportGallery(cmd.Context(), queue, records, func() { bar.Add(1) })
		bar.Finish()
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return err
		}

		fmt.Printf("Imported %d of %d records\n", stored, len(records))
		return nil
	},
}

var galleryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled identities",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, queue, err := openQueue(settings)
		if err != nil {
			return err
		}
		defer st.Close()
		queue.Start()
		defer queue.Stop()

		q := store.NewQueryNames(store.Medium)
		if err := queue.Push(q); err != nil {
			return err
		}
		names, err := q.Wait(cmd.Context())
		if err != nil {
			return err
		}

		if len(names) == 0 {
			fmt.Println("No identities enrolled.")
			return nil
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

func init() {
	galleryCmd.AddCommand(galleryImportCmd, galleryListCmd)
}
