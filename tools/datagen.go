package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"mini-storm/internal/udf"
)

// Genera archivos de entrada para el spout line_file.
func main() {
	out := flag.String("out", "data/inputs/jokes.txt", "Archivo de salida")
	lines := flag.Int("lines", 2000, "Cantidad de frases")
	seed := flag.Int64("seed", 42, "Semilla")
	flag.Parse()

	if err := os.MkdirAll(filepath.Dir(*out), 0755); err != nil {
		log.Fatal(err)
	}

	// Mismas frases que el spout random_sentence
	factory, err := udf.GetSourceFactory("random_sentence")
	if err != nil {
		log.Fatal(err)
	}
	src, err := factory(map[string]string{"seed": strconv.FormatInt(*seed, 10), "limit": strconv.Itoa(*lines)})
	if err != nil {
		log.Fatal(err)
	}

	f, err := os.Create(*out)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	fmt.Printf("Generando %s ...\n", *out)
	n := 0
	for {
		msg, ok, err := src.Next(context.Background())
		if err != nil {
			log.Fatal(err)
		}
		if !ok {
			break
		}
		fmt.Fprintln(w, msg.Values[0])
		n++
	}
	if err := w.Flush(); err != nil {
		log.Fatal(err)
	}
	fmt.Printf(" %d frases generadas exitosamente.\n", n)
}
