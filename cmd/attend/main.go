// Command attend runs the attention variants on synthetic input and prints
// the resulting shapes and attention distributions. It exists to exercise and
// demonstrate the library; the numeric contracts live in pkg/nn/attention.
package main

import (
	"fmt"
	"log/slog"
	"math/rand"
	"os"

	"github.com/spf13/cobra"

	"goseq/pkg/nn"
	"goseq/pkg/nn/attention"
	"goseq/pkg/tensor"
)

var (
	flagBatch   int
	flagSeqLen  int
	flagDim     int
	flagHeads   int
	flagCausal  bool
	flagSeed    int64
	flagVerbose bool
)

func main() {
	root := &cobra.Command{
		Use:          "attend",
		Short:        "Run attention variants on synthetic input",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if flagVerbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			nn.SetInitSeed(flagSeed)
			tensor.SetDropoutSeed(flagSeed)
		},
	}

	root.PersistentFlags().IntVar(&flagBatch, "batch", 2, "batch size")
	root.PersistentFlags().IntVar(&flagSeqLen, "seq-len", 6, "sequence length")
	root.PersistentFlags().IntVar(&flagDim, "dim", 16, "feature dimension")
	root.PersistentFlags().Int64Var(&flagSeed, "seed", 42, "seed for weight init and synthetic data")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	sdpaCmd := &cobra.Command{
		Use:   "sdpa",
		Short: "Scaled dot-product attention over random q/k/v",
		RunE:  runSDPA,
	}
	sdpaCmd.Flags().BoolVar(&flagCausal, "causal", false, "apply causal masking")

	multiheadCmd := &cobra.Command{
		Use:   "multihead",
		Short: "Multi-head attention over random q/k/v",
		RunE:  runMultiHead,
	}
	multiheadCmd.Flags().IntVar(&flagHeads, "heads", 4, "number of attention heads")
	multiheadCmd.Flags().BoolVar(&flagCausal, "causal", false, "apply causal masking")

	root.AddCommand(
		&cobra.Command{
			Use:   "global",
			Short: "Global attention of a query vector over a context sequence",
			RunE:  runGlobal,
		},
		sdpaCmd,
		multiheadCmd,
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGlobal(cmd *cobra.Command, args []string) error {
	slog.Debug("building global attention", "dim", flagDim, "batch", flagBatch, "source_len", flagSeqLen)

	attn := attention.NewGlobalAttention(attention.GlobalAttentionConfig{
		Dim:        flagDim,
		BatchFirst: true,
	})

	rng := rand.New(rand.NewSource(flagSeed))
	query := randomTensor(rng, []int{flagBatch, flagDim})
	context := randomTensor(rng, []int{flagBatch, flagSeqLen, flagDim})

	out, weights, err := attn.Forward(query, context, nil)
	if err != nil {
		return err
	}

	fmt.Printf("output:  %v\n", out.Shape)
	fmt.Printf("weights: %v\n", weights.Shape)
	printWeightRow("batch 0 attention", weights.Data[:flagSeqLen])
	return nil
}

func runSDPA(cmd *cobra.Command, args []string) error {
	slog.Debug("building sdpa", "dim", flagDim, "causal", flagCausal)

	attn := attention.NewSDPA(0, flagCausal)

	rng := rand.New(rand.NewSource(flagSeed))
	q := randomTensor(rng, []int{flagBatch, flagSeqLen, flagDim})
	k := randomTensor(rng, []int{flagBatch, flagSeqLen, flagDim})
	v := randomTensor(rng, []int{flagBatch, flagSeqLen, flagDim})

	out, err := attn.Forward(q, k, v, nil, false)
	if err != nil {
		return err
	}

	fmt.Printf("output: %v\n", out.Shape)
	fmt.Println(out)
	return nil
}

func runMultiHead(cmd *cobra.Command, args []string) error {
	slog.Debug("building multi-head attention", "heads", flagHeads, "input_size", flagDim, "causal", flagCausal)

	attn, err := attention.NewMultiHeadAttention(attention.MultiHeadAttentionConfig{
		InputSize:  flagDim,
		OutputSize: flagDim,
		NumHeads:   flagHeads,
		Causal:     flagCausal,
	})
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(flagSeed))
	x := randomTensor(rng, []int{flagBatch, flagSeqLen, flagDim})

	out, err := attn.Forward(x, x, x, nil, false)
	if err != nil {
		return err
	}

	fmt.Printf("output: %v (parameters: %d tensors)\n", out.Shape, len(attn.Parameters()))
	fmt.Println(out)
	return nil
}

func randomTensor(rng *rand.Rand, shape []int) *tensor.Tensor {
	t := tensor.NewTensor(shape)
	for i := range t.Data {
		t.Data[i] = rng.Float32()*2 - 1
	}
	return t
}

func printWeightRow(label string, row []float32) {
	fmt.Printf("%s: [", label)
	for i, w := range row {
		if i > 0 {
			fmt.Print(", ")
		}
		fmt.Printf("%.4f", w)
	}
	fmt.Println("]")
}
