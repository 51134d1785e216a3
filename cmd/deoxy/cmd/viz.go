/*
Copyright © 2024 Jonathan Taylor <jonrtaylor12@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

package cmd

import (
	"fmt"
	"os"

	"github.com/goccy/go-graphviz"
	"github.com/jt05610/deoxy/viz"
	"github.com/spf13/cobra"
)

var (
	outputFile string
	format     string
)

// vizCmd represents the viz command
var vizCmd = &cobra.Command{
	Use:   "viz",
	Short: "Create a graphviz figure from a protocol",
	Long: `Compile a protocol and draw its action program. Perfusion targets are
named with the motor labels of the apparatus config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := readProtocol(inputFile)
		if err != nil {
			return err
		}
		prog, err := p.Program()
		if err != nil {
			return err
		}
		cfg, err := loadConfig("")
		if err != nil {
			return err
		}
		labels := make(map[int]string)
		for i, m := range cfg.Motors {
			if m.Label != "" {
				labels[i] = m.Label
			}
		}
		out := os.Stdout
		if outputFile != "" {
			out, err = os.Create(outputFile)
			if err != nil {
				return err
			}
			defer func() {
				_ = out.Close()
			}()
		}
		w := viz.New(&viz.Config{
			Font:    viz.Helvetica,
			RankDir: viz.LeftToRight,
			Format:  graphviz.Format(format),
			Labels:  labels,
		})
		if err := w.Flush(out, prog); err != nil {
			return err
		}
		if outputFile != "" {
			fmt.Printf("wrote %s\n", outputFile)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(vizCmd)
	vizCmd.Flags().StringVarP(&inputFile, "input", "i", "", "protocol file")
	vizCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output file (default stdout)")
	vizCmd.Flags().StringVarP(&format, "format", "f", "svg", "output format")
}
