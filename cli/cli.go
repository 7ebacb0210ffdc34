// Package cli implements the command-line surface: wallet management,
// chain bootstrap, balance queries, transaction submission, and node
// startup.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vrecan/death/v3"

	"github.com/petiidev/goblockchain/addr"
	"github.com/petiidev/goblockchain/core"
	"github.com/petiidev/goblockchain/coreerr"
	"github.com/petiidev/goblockchain/p2p"
	"github.com/petiidev/goblockchain/wallet"
)

// CommandLine dispatches the blockchain node's subcommands.
type CommandLine struct {
	// Out is where human-facing output is printed; defaults to os.Stdout.
	Out io.Writer
}

func (cli *CommandLine) out() io.Writer {
	if cli.Out == nil {
		return os.Stdout
	}
	return cli.Out
}

func (cli *CommandLine) printUsage() {
	fmt.Fprintln(cli.out(), "Usage:")
	fmt.Fprintln(cli.out(), " createwallet - create a new wallet")
	fmt.Fprintln(cli.out(), " listaddress - list stored addresses")
	fmt.Fprintln(cli.out(), " createblockchain -address ADDRESS - wipe and create the chain, rewarding ADDRESS")
	fmt.Fprintln(cli.out(), " getbalance -address ADDRESS - print the balance of an address")
	fmt.Fprintln(cli.out(), " send -from FROM -to TO -amount AMOUNT [-mine] - send coins")
	fmt.Fprintln(cli.out(), " printchain - print every block from the tip to genesis")
	fmt.Fprintln(cli.out(), " startnode -port PORT [-miner_address ADDRESS] - start a P2P node")
}

// namespaces resolves the three on-disk store directories for nodeID under
// baseDir.
type namespaces struct {
	chain   string
	utxo    string
	wallets string
}

func resolveNamespaces(baseDir, nodeID string) namespaces {
	return namespaces{
		chain:   filepath.Join(baseDir, fmt.Sprintf("blockchain_%s", nodeID)),
		utxo:    filepath.Join(baseDir, fmt.Sprintf("utxos_%s", nodeID)),
		wallets: filepath.Join(baseDir, fmt.Sprintf("wallets_%s", nodeID)),
	}
}

// Run parses args (excluding the program name) and executes the named
// subcommand. baseDir is the root under which per-node store namespaces
// are resolved; nodeID distinguishes multiple local nodes sharing baseDir.
func (cli *CommandLine) Run(args []string, baseDir, nodeID string) error {
	if len(args) == 0 {
		cli.printUsage()
		return fmt.Errorf("cli: no subcommand given")
	}

	ns := resolveNamespaces(baseDir, nodeID)

	getBalanceCmd := flag.NewFlagSet("getbalance", flag.ContinueOnError)
	createBlockchainCmd := flag.NewFlagSet("createblockchain", flag.ContinueOnError)
	sendCmd := flag.NewFlagSet("send", flag.ContinueOnError)
	printChainCmd := flag.NewFlagSet("printchain", flag.ContinueOnError)
	createWalletCmd := flag.NewFlagSet("createwallet", flag.ContinueOnError)
	listAddressCmd := flag.NewFlagSet("listaddress", flag.ContinueOnError)
	reindexUTXOCmd := flag.NewFlagSet("reindexutxo", flag.ContinueOnError)
	startNodeCmd := flag.NewFlagSet("startnode", flag.ContinueOnError)

	getBalanceAddress := getBalanceCmd.String("address", "", "wallet address to get the balance of")
	createBlockchainAddress := createBlockchainCmd.String("address", "", "wallet address to reward with the genesis coinbase")
	sendFrom := sendCmd.String("from", "", "source wallet address")
	sendTo := sendCmd.String("to", "", "destination wallet address")
	sendAmount := sendCmd.Int("amount", 0, "amount to send")
	sendMine := sendCmd.Bool("mine", false, "mine the transaction locally instead of relaying it")
	startNodePort := startNodeCmd.String("port", "", "local TCP port to bind")
	startNodeCentral := startNodeCmd.String("central", "localhost:3000", "central node address")
	startNodeMiner := startNodeCmd.String("miner_address", "", "enable mining mode, rewarding ADDRESS")

	switch args[0] {
	case "getbalance":
		if err := getBalanceCmd.Parse(args[1:]); err != nil {
			return err
		}
		if *getBalanceAddress == "" {
			getBalanceCmd.Usage()
			return fmt.Errorf("cli: -address is required")
		}
		return cli.getBalance(*getBalanceAddress, ns)

	case "createblockchain":
		if err := createBlockchainCmd.Parse(args[1:]); err != nil {
			return err
		}
		if *createBlockchainAddress == "" {
			createBlockchainCmd.Usage()
			return fmt.Errorf("cli: -address is required")
		}
		return cli.createBlockchain(*createBlockchainAddress, ns)

	case "send":
		if err := sendCmd.Parse(args[1:]); err != nil {
			return err
		}
		if *sendFrom == "" || *sendTo == "" || *sendAmount <= 0 {
			sendCmd.Usage()
			return fmt.Errorf("cli: -from, -to and a positive -amount are required")
		}
		return cli.send(*sendFrom, *sendTo, int32(*sendAmount), *sendMine, ns, nodeID)

	case "printchain":
		if err := printChainCmd.Parse(args[1:]); err != nil {
			return err
		}
		return cli.printChain(ns)

	case "createwallet":
		if err := createWalletCmd.Parse(args[1:]); err != nil {
			return err
		}
		return cli.createWallet(ns)

	case "listaddress":
		if err := listAddressCmd.Parse(args[1:]); err != nil {
			return err
		}
		return cli.listAddresses(ns)

	case "reindexutxo":
		if err := reindexUTXOCmd.Parse(args[1:]); err != nil {
			return err
		}
		return cli.reindexUTXO(ns)

	case "startnode":
		if err := startNodeCmd.Parse(args[1:]); err != nil {
			return err
		}
		if *startNodePort == "" {
			startNodeCmd.Usage()
			return fmt.Errorf("cli: -port is required")
		}
		return cli.startNode(*startNodePort, *startNodeCentral, *startNodeMiner, ns)

	default:
		cli.printUsage()
		return fmt.Errorf("cli: unrecognized subcommand %q", args[0])
	}
}

func (cli *CommandLine) createWallet(ns namespaces) error {
	ws, err := wallet.Open(ns.wallets)
	if err != nil {
		return err
	}
	defer ws.Close()

	address, err := ws.Create()
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out(), "New wallet created with address: %s\n", address)
	return nil
}

func (cli *CommandLine) listAddresses(ns namespaces) error {
	ws, err := wallet.Open(ns.wallets)
	if err != nil {
		return err
	}
	defer ws.Close()

	for _, address := range ws.Addresses() {
		fmt.Fprintln(cli.out(), address)
	}
	return nil
}

func (cli *CommandLine) createBlockchain(address string, ns namespaces) error {
	if !addr.ValidateAddress(address) {
		return fmt.Errorf("cli: invalid address %q", address)
	}

	_ = os.RemoveAll(ns.chain)
	_ = os.RemoveAll(ns.utxo)

	chain, err := core.Open(ns.chain, address)
	if err != nil {
		return err
	}
	defer chain.Close()

	utxo, err := core.OpenUTXOSet(ns.utxo)
	if err != nil {
		return err
	}
	defer utxo.Close()

	if err := utxo.Reindex(chain); err != nil {
		return err
	}
	fmt.Fprintln(cli.out(), "Finished creating blockchain!")
	return nil
}

func (cli *CommandLine) getBalance(address string, ns namespaces) error {
	if !addr.ValidateAddress(address) {
		return fmt.Errorf("cli: invalid address %q", address)
	}

	chain, err := core.Open(ns.chain, "")
	if err != nil {
		return err
	}
	defer chain.Close()

	utxo, err := core.OpenUTXOSet(ns.utxo)
	if err != nil {
		return err
	}
	defer utxo.Close()

	pkh, err := addr.PKHFromAddress(address)
	if err != nil {
		return err
	}
	outs, err := utxo.FindUTXO(pkh)
	if err != nil {
		return err
	}

	var balance int32
	for _, out := range outs {
		balance += out.Value
	}
	fmt.Fprintf(cli.out(), "Balance of '%s': %d\n", address, balance)
	return nil
}

func (cli *CommandLine) send(from, to string, amount int32, mine bool, ns namespaces, nodeID string) error {
	if !addr.ValidateAddress(from) {
		return fmt.Errorf("cli: invalid from address %q", from)
	}
	if !addr.ValidateAddress(to) {
		return fmt.Errorf("cli: invalid to address %q", to)
	}

	chain, err := core.Open(ns.chain, "")
	if err != nil {
		return err
	}
	defer chain.Close()

	utxo, err := core.OpenUTXOSet(ns.utxo)
	if err != nil {
		return err
	}
	defer utxo.Close()

	ws, err := wallet.Open(ns.wallets)
	if err != nil {
		return err
	}
	defer ws.Close()

	w, ok := ws.Get(from)
	if !ok {
		return fmt.Errorf("cli: no wallet stored for %q", from)
	}

	tx, err := core.NewUTXOTransaction(w, to, amount, utxo, chain)
	if err != nil {
		return err
	}

	if mine {
		coinbase, err := core.NewCoinbaseTx(from, "")
		if err != nil {
			return err
		}
		block, err := chain.MineBlock([]*core.Transaction{tx, coinbase}, nowUnix())
		if err != nil {
			return err
		}
		if err := utxo.Update(block); err != nil {
			return err
		}
	} else {
		server := p2p.NewServer(localNodeAddress(nodeID), "localhost:3000", "", chain, utxo)
		if err := server.SendTransaction(tx); err != nil {
			return err
		}
	}

	fmt.Fprintln(cli.out(), "Success!")
	return nil
}

func (cli *CommandLine) reindexUTXO(ns namespaces) error {
	chain, err := core.Open(ns.chain, "")
	if err != nil {
		return err
	}
	defer chain.Close()

	utxo, err := core.OpenUTXOSet(ns.utxo)
	if err != nil {
		return err
	}
	defer utxo.Close()

	if err := utxo.Reindex(chain); err != nil {
		return err
	}
	count, err := utxo.CountTransactions()
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out(), "Done! There are %d transactions in the UTXO set.\n", count)
	return nil
}

func (cli *CommandLine) printChain(ns namespaces) error {
	chain, err := core.Open(ns.chain, "")
	if err != nil {
		return err
	}
	defer chain.Close()

	it := chain.Iterator()
	for {
		block, err := it.Next()
		if err != nil {
			return err
		}
		if block == nil {
			break
		}

		fmt.Fprintf(cli.out(), "Prev. hash: %s\n", block.PrevHash)
		fmt.Fprintf(cli.out(), "Hash: %s\n", block.Hash)
		fmt.Fprintf(cli.out(), "Height: %d\n", block.Height)
		pow := core.NewProofOfWork(block)
		fmt.Fprintf(cli.out(), "PoW: %s\n", strconv.FormatBool(pow.Validate()))
		for _, tx := range block.Transactions {
			fmt.Fprintln(cli.out(), tx.String())
		}
		fmt.Fprintln(cli.out())
	}
	return nil
}

func (cli *CommandLine) startNode(port, central, minerAddress string, ns namespaces) error {
	if minerAddress != "" && !addr.ValidateAddress(minerAddress) {
		return fmt.Errorf("cli: invalid miner address %q", minerAddress)
	}

	var chain *core.Blockchain
	var utxo *core.UTXOSet

	chain, err := core.Open(ns.chain, "")
	switch {
	case errors.Is(err, coreerr.ErrNoChain):
		// No local chain yet: start with a nil chain/utxo. The server still
		// probes peers, but it rejects incoming blocks while it has no chain
		// to append them to.
		chain = nil
	case err != nil:
		return err
	default:
		defer chain.Close()

		utxo, err = core.OpenUTXOSet(ns.utxo)
		if err != nil {
			return err
		}
		defer utxo.Close()
	}

	nodeAddress := "localhost:" + port
	if minerAddress != "" {
		logrus.WithField("address", minerAddress).Info("cli: mining enabled")
	}

	server := p2p.NewServer(nodeAddress, central, minerAddress, chain, utxo)

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start(ctx) }()

	d := death.NewDeath(syscall.SIGINT, syscall.SIGTERM)
	d.WaitForDeathWithFunc(func() {
		cancel()
		logrus.Info("cli: shutting down node")
	})

	return <-serveErr
}

func localNodeAddress(nodeID string) string {
	return "localhost:" + nodeID
}

func nowUnix() int64 {
	return time.Now().Unix()
}
