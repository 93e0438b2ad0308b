package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/olekukonko/tablewriter"

	"docbase"
	"docbase/internal/collection"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func (c *cli) activeCollection() (*collection.Collection, error) {
	if c.currentCollection == "" {
		return nil, errors.New("no active collection; run: use <collection>")
	}
	return c.db.Collection(c.currentCollection), nil
}

func (c *cli) handleUse(args string) error {
	if args == "" {
		return errors.New("usage: use <collection>")
	}
	c.currentCollection = args
	fmt.Println(colorOk("using collection "), args)
	return nil
}

func (c *cli) handleCollections(string) error {
	names, err := c.db.Collections()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println(colorInfo("no collections"))
		return nil
	}
	for _, name := range names {
		fmt.Println("  " + name)
	}
	return nil
}

func (c *cli) handleInsert(args string) error {
	col, err := c.activeCollection()
	if err != nil {
		return err
	}
	var doc docbase.Document
	if err := json.UnmarshalFromString(args, &doc); err != nil {
		return fmt.Errorf("invalid document JSON: %w", err)
	}
	id, err := col.InsertOne(doc)
	if err != nil {
		return err
	}
	fmt.Println(colorOk("inserted "), id)
	return nil
}

func (c *cli) handleFind(args string) error {
	col, err := c.activeCollection()
	if err != nil {
		return err
	}
	filter, err := parseFilter(args)
	if err != nil {
		return err
	}
	cur, err := col.Find(filter)
	if err != nil {
		return err
	}
	defer cur.Close()
	renderDocuments(cur.All())
	return nil
}

func (c *cli) handleFindOne(args string) error {
	col, err := c.activeCollection()
	if err != nil {
		return err
	}
	filter, err := parseFilter(args)
	if err != nil {
		return err
	}
	doc, err := col.FindOne(filter)
	if err != nil {
		return err
	}
	if doc == nil {
		fmt.Println(colorInfo("no match"))
		return nil
	}
	renderDocuments([]docbase.Document{doc})
	return nil
}

func (c *cli) handleCount(args string) error {
	col, err := c.activeCollection()
	if err != nil {
		return err
	}
	filter, err := parseFilter(args)
	if err != nil {
		return err
	}
	n, err := col.CountDocuments(filter)
	if err != nil {
		return err
	}
	fmt.Println(colorOk(fmt.Sprintf("%d document(s)", n)))
	return nil
}

func (c *cli) handleUpdate(args string) error {
	col, err := c.activeCollection()
	if err != nil {
		return err
	}
	filter, update, err := parseFilterAndUpdate(args)
	if err != nil {
		return err
	}
	n, err := col.UpdateMany(filter, update)
	if err != nil {
		return err
	}
	fmt.Println(colorOk(fmt.Sprintf("modified %d document(s)", n)))
	return nil
}

func (c *cli) handleDelete(args string) error {
	col, err := c.activeCollection()
	if err != nil {
		return err
	}
	filter, err := parseFilter(args)
	if err != nil {
		return err
	}
	n, err := col.DeleteMany(filter)
	if err != nil {
		return err
	}
	fmt.Println(colorOk(fmt.Sprintf("deleted %d document(s)", n)))
	return nil
}

func (c *cli) handleCompact(string) error {
	col, err := c.activeCollection()
	if err != nil {
		return err
	}
	if err := col.Compact(); err != nil {
		return err
	}
	fmt.Println(colorOk("compacted ") + c.currentCollection)
	return nil
}

func (c *cli) handleDrop(string) error {
	if c.currentCollection == "" {
		return errors.New("no active collection; run: use <collection>")
	}
	if err := c.db.DropCollection(c.currentCollection); err != nil {
		return err
	}
	fmt.Println(colorOk("dropped ") + c.currentCollection)
	c.currentCollection = ""
	return nil
}

func (c *cli) handleClear(string) error {
	fmt.Print("\033[H\033[2J")
	return nil
}

func (c *cli) handleHelp(string) error {
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Println("  " + c.commands[name].help)
	}
	fmt.Println("  exit - leave the shell")
	return nil
}

func parseFilter(args string) (map[string]any, error) {
	if args == "" {
		return map[string]any{}, nil
	}
	var filter map[string]any
	if err := json.UnmarshalFromString(args, &filter); err != nil {
		return nil, fmt.Errorf("invalid filter JSON: %w", err)
	}
	return filter, nil
}

// parseFilterAndUpdate decodes two consecutive JSON objects from one line.
func parseFilterAndUpdate(args string) (map[string]any, map[string]any, error) {
	decoder := json.NewDecoder(strings.NewReader(args))
	var filter, update map[string]any
	if err := decoder.Decode(&filter); err != nil {
		return nil, nil, fmt.Errorf("invalid filter JSON: %w", err)
	}
	if err := decoder.Decode(&update); err != nil {
		return nil, nil, fmt.Errorf("invalid update JSON: %w", err)
	}
	return filter, update, nil
}

// renderDocuments prints results as a table: one column per field seen across
// the result set, _id first.
func renderDocuments(docs []docbase.Document) {
	if len(docs) == 0 {
		fmt.Println(colorInfo("no matches"))
		return
	}

	fieldSet := make(map[string]struct{})
	for _, doc := range docs {
		for field := range doc {
			fieldSet[field] = struct{}{}
		}
	}
	fields := make([]string, 0, len(fieldSet))
	for field := range fieldSet {
		if field != "_id" {
			fields = append(fields, field)
		}
	}
	sort.Strings(fields)
	fields = append([]string{"_id"}, fields...)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(fields)
	for _, doc := range docs {
		row := make([]string, len(fields))
		for i, field := range fields {
			value, ok := doc[field]
			if !ok {
				continue
			}
			switch v := value.(type) {
			case string:
				row[i] = v
			default:
				rendered, err := json.MarshalToString(v)
				if err != nil {
					rendered = fmt.Sprintf("%v", v)
				}
				row[i] = rendered
			}
		}
		table.Append(row)
	}
	table.Render()
	fmt.Println(colorOk(fmt.Sprintf("%d document(s)", len(docs))))
}
