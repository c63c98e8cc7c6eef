package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"mini-storm/internal/common"
	"mini-storm/internal/dag"
)

// Códigos de salida
const (
	exitOK       = 0
	exitRejected = 1 // El Master rechazó la operación
	exitUsage    = 2
	exitNetwork  = 3
)

const usage = `uso:
  client [--master URL] submit <topologia.json> [--workers N] [--config k=v]...
  client [--master URL] kill <nombre>
  client [--master URL] status [nombre]`

var httpClient = &http.Client{Timeout: 10 * time.Second}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// configFlags acumula los --config k=v repetidos
type configFlags map[string]string

func (c configFlags) String() string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k+"="+c[k])
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

func (c configFlags) Set(v string) error {
	k, val, ok := strings.Cut(v, "=")
	if !ok || k == "" {
		return fmt.Errorf("se esperaba k=v, obtuvo %q", v)
	}
	c[k] = val
	return nil
}

func run(args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("client", flag.ContinueOnError)
	global.SetOutput(stderr)
	masterURL := global.String("master", "http://localhost:8080", "URL del Master")
	if err := global.Parse(args); err != nil {
		return exitUsage
	}
	rest := global.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, usage)
		return exitUsage
	}

	switch rest[0] {
	case "submit":
		return submit(*masterURL, rest[1:], stdout, stderr)
	case "kill":
		if len(rest) != 2 {
			fmt.Fprintln(stderr, usage)
			return exitUsage
		}
		return kill(*masterURL, rest[1], stdout, stderr)
	case "status":
		name := ""
		if len(rest) > 1 {
			name = rest[1]
		}
		return status(*masterURL, name, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "comando desconocido %q\n%s\n", rest[0], usage)
		return exitUsage
	}
}

func submit(masterURL string, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	workers := fs.Int("workers", 0, "Cantidad de workers (numWorkers)")
	config := configFlags{}
	fs.Var(config, "config", "Opcion de la topologia k=v (repetible)")

	// Los flags pueden ir antes o después del archivo
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(stderr, usage)
		return exitUsage
	}
	path := fs.Arg(0)
	if err := fs.Parse(fs.Args()[1:]); err != nil || fs.NArg() > 0 {
		fmt.Fprintln(stderr, usage)
		return exitUsage
	}

	file, err := dag.ParseTopologyFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error leyendo %s: %v\n", path, err)
		return exitUsage
	}
	req := common.SubmitRequest{Topology: file.TopologyDef, Config: map[string]string{}}
	for k, v := range file.Config {
		req.Config[k] = v
	}
	for k, v := range config {
		req.Config[k] = v
	}
	if *workers > 0 {
		req.Config[common.ConfNumWorkers] = strconv.Itoa(*workers)
	}

	body, _ := json.Marshal(req)
	resp, err := httpClient.Post(masterURL+"/api/v1/topologies", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(stderr, "Error contactando master: %v\n", err)
		return exitNetwork
	}
	defer resp.Body.Close()

	var out common.SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintf(stderr, "Respuesta invalida del master (status %d): %v\n", resp.StatusCode, err)
		return exitNetwork
	}
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "Master rechazo la topologia: %s\n", out.Error)
		return exitRejected
	}
	fmt.Fprintf(stdout, "Topologia %s aceptada con ID %s (epoch %d, %d tareas)\n", out.Name, out.TopologyID, out.Epoch, len(out.Tasks))
	return exitOK
}

func kill(masterURL, name string, stdout, stderr io.Writer) int {
	req, _ := http.NewRequest(http.MethodDelete, masterURL+"/api/v1/topologies/"+name, nil)
	resp, err := httpClient.Do(req)
	if err != nil {
		fmt.Fprintf(stderr, "Error contactando master: %v\n", err)
		return exitNetwork
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(stderr, "No se pudo detener %s: %s\n", name, strings.TrimSpace(string(msg)))
		return exitRejected
	}
	fmt.Fprintf(stdout, "Topologia %s detenida\n", name)
	return exitOK
}

func status(masterURL, name string, stdout, stderr io.Writer) int {
	url := masterURL + "/api/v1/topologies"
	if name != "" {
		url += "/" + name
	}
	resp, err := httpClient.Get(url)
	if err != nil {
		fmt.Fprintf(stderr, "Error contactando master: %v\n", err)
		return exitNetwork
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(stderr, "Error consultando estado: %s\n", strings.TrimSpace(string(msg)))
		return exitRejected
	}

	var infos []common.TopologyInfo
	if name != "" {
		var info common.TopologyInfo
		err = json.NewDecoder(resp.Body).Decode(&info)
		infos = append(infos, info)
	} else {
		err = json.NewDecoder(resp.Body).Decode(&infos)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Respuesta invalida del master: %v\n", err)
		return exitNetwork
	}
	for _, info := range infos {
		assigned := common.Assignment{Tasks: info.Tasks}
		fmt.Fprintf(stdout, "%s\t%s\t%s\tepoch=%d\ttareas=%d\tpendientes=%d\n",
			info.Name, info.ID, info.Status, info.Epoch, len(info.Tasks), len(assigned.Unassigned()))
	}
	return exitOK
}
