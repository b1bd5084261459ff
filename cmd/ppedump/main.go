// Copyright 2021 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/spf13/cobra"

	ppelib "github.com/saferwall/ppelib"
)

func prettyPrint(buf []byte) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, buf, "", "\t"); err != nil {
		log.Println("JSON parse error:", err)
		return string(buf)
	}
	return pretty.String()
}

// mapFile memory-maps filename read-only and returns its bytes. The
// mapping is closed when the returned func is called.
func mapFile(filename string) ([]byte, func() error, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, nil, err
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return []byte(m), func() error {
		if err := m.Unmap(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}, nil
}

func runDump(cmd *cobra.Command, args []string) error {
	filename := args[0]
	data, closeFn, err := mapFile(filename)
	if err != nil {
		return fmt.Errorf("opening %s: %w", filename, err)
	}
	defer closeFn()

	img, err := ppelib.Load(data, ppelib.Options{})
	if err != nil {
		return fmt.Errorf("parsing %s: %w", filename, err)
	}

	wantHeader, _ := cmd.Flags().GetBool("header")
	wantSections, _ := cmd.Flags().GetBool("sections")
	wantCerts, _ := cmd.Flags().GetBool("certificates")
	wantSize, _ := cmd.Flags().GetBool("size")

	if wantHeader {
		b, _ := json.Marshal(img.GetHeader())
		fmt.Println(prettyPrint(b))
	}
	if wantSections {
		b, _ := json.Marshal(img.Sections)
		fmt.Println(prettyPrint(b))
	}
	if wantCerts {
		b, _ := json.Marshal(img.CertificateTable)
		fmt.Println(prettyPrint(b))
	}
	if wantSize {
		b, _ := json.Marshal(img.SizeBreakdown())
		fmt.Println(prettyPrint(b))
	}
	if !wantHeader && !wantSections && !wantCerts && !wantSize {
		b, _ := json.Marshal(img.GetHeader())
		fmt.Println(prettyPrint(b))
	}
	return nil
}

func runRecalculate(cmd *cobra.Command, args []string) error {
	filename := args[0]
	data, closeFn, err := mapFile(filename)
	if err != nil {
		return fmt.Errorf("opening %s: %w", filename, err)
	}
	defer closeFn()

	img, err := ppelib.Load(data, ppelib.Options{})
	if err != nil {
		return fmt.Errorf("parsing %s: %w", filename, err)
	}
	if err := img.Recalculate(); err != nil {
		return fmt.Errorf("recalculating %s: %w", filename, err)
	}

	size, err := img.Store(nil)
	if err != nil {
		return err
	}
	out := make([]byte, size)
	if _, err := img.Store(out); err != nil {
		return err
	}

	outPath, _ := cmd.Flags().GetString("out")
	if outPath == "" {
		fmt.Printf("recalculated image would be %d bytes\n", size)
		return nil
	}
	return os.WriteFile(outPath, out, 0o644)
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "ppedump",
		Short: "A Portable Executable image codec",
		Long:  "ppedump parses, recalculates and re-serializes Portable Executable image files.",
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("ppedump 0.1.0")
		},
	}

	dumpCmd := &cobra.Command{
		Use:   "dump [file]",
		Short: "Dump the parsed header, sections, certificates or size breakdown",
		Args:  cobra.ExactArgs(1),
		RunE:  runDump,
	}
	dumpCmd.Flags().Bool("header", false, "print the header")
	dumpCmd.Flags().Bool("sections", false, "print section headers")
	dumpCmd.Flags().Bool("certificates", false, "print the certificate table")
	dumpCmd.Flags().Bool("size", false, "print the size breakdown")

	recalcCmd := &cobra.Command{
		Use:   "recalculate [file]",
		Short: "Recalculate geometry and optionally write the result",
		Args:  cobra.ExactArgs(1),
		RunE:  runRecalculate,
	}
	recalcCmd.Flags().String("out", "", "write the recalculated image to this path")

	rootCmd.AddCommand(versionCmd, dumpCmd, recalcCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
