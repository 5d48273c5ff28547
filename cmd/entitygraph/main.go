// entitygraph - embedded entity/relation object store
//
// Exports and imports stores as JSON envelopes against a filesystem
// sink, and sweeps a store for dangling relation records.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/nkoval/entitygraph"
	"github.com/nkoval/entitygraph/export"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "export":
			runExport(os.Args[2:])
			return
		case "import":
			runImport(os.Args[2:])
			return
		case "doctor":
			runDoctor(os.Args[2:])
			return
		case "help", "--help", "-h":
			printHelp()
			return
		}
	}
	printHelp()
}

func printHelp() {
	fmt.Println(`entitygraph - embedded entity/relation object store

Usage:
  entitygraph export --db path --store name --out envelope.json [--base dir]
  entitygraph import --db path --store name --in envelope.json [--base dir]
  entitygraph doctor --db path --store name`)
}

func runExport(args []string) {
	flags := flag.NewFlagSet("export", flag.ExitOnError)
	dbPath := flags.String("db", "./entitygraph.db", "database file path")
	store := flags.String("store", "", "store to export")
	basePath := flags.String("base", "./exports", "filesystem sink base directory")
	out := flags.String("out", "envelope.json", "envelope name within the sink")
	flags.Parse(args)

	if *store == "" {
		log.Fatal("export: --store is required")
	}

	db, err := entitygraph.Open(*dbPath)
	if err != nil {
		log.Fatalf("open %s: %v", *dbPath, err)
	}
	defer db.Close()

	sink := export.NewFilesystemSink(*basePath)
	ctx := context.Background()
	if err := db.Export(ctx, sink, *out, *store, nil); err != nil {
		log.Fatalf("export %s: %v", *store, err)
	}
	fmt.Printf("exported %s to %s/%s\n", *store, *basePath, *out)
}

func runImport(args []string) {
	flags := flag.NewFlagSet("import", flag.ExitOnError)
	dbPath := flags.String("db", "./entitygraph.db", "database file path")
	store := flags.String("store", "", "store to import into")
	basePath := flags.String("base", "./exports", "filesystem sink base directory")
	in := flags.String("in", "envelope.json", "envelope name within the sink")
	flags.Parse(args)

	if *store == "" {
		log.Fatal("import: --store is required")
	}

	db, err := entitygraph.Open(*dbPath)
	if err != nil {
		log.Fatalf("open %s: %v", *dbPath, err)
	}
	defer db.Close()

	sink := export.NewFilesystemSink(*basePath)
	ctx := context.Background()
	if err := db.Import(ctx, sink, *in, *store); err != nil {
		log.Fatalf("import %s: %v", *store, err)
	}
	fmt.Printf("imported %s from %s/%s\n", *store, *basePath, *in)
}

func runDoctor(args []string) {
	flags := flag.NewFlagSet("doctor", flag.ExitOnError)
	dbPath := flags.String("db", "./entitygraph.db", "database file path")
	store := flags.String("store", "", "store to sweep")
	flags.Parse(args)

	if *store == "" {
		log.Fatal("doctor: --store is required")
	}

	db, err := entitygraph.Open(*dbPath)
	if err != nil {
		log.Fatalf("open %s: %v", *dbPath, err)
	}
	defer db.Close()

	violations, err := entitygraph.NewDoctor(db).CheckRelationIntegrity(*store)
	if err != nil {
		log.Fatalf("doctor %s: %v", *store, err)
	}
	if len(violations) == 0 {
		fmt.Printf("%s: no relation integrity violations found\n", *store)
		return
	}
	for _, v := range violations {
		fmt.Printf("%s/%s -> %s/%s (%s): peer missing\n", v.Store, v.Key, v.PeerStore, v.PeerKey, v.Name)
	}
	os.Exit(1)
}
