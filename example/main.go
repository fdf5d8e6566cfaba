package main

import (
	"fmt"

	"github.com/iFaceless/tinkv"
)

func main() {
	store, err := tinkv.Open("tinkv-data")
	if err != nil {
		panic(err)
	}
	defer store.Close()

	if err = store.Set([]byte("hello"), []byte("tinkv")); err != nil {
		fmt.Println(err)
		return
	}

	value, err := store.Get([]byte("hello"))
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println("hello =>", string(value))

	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("key-%d", i)
		if err = store.Set([]byte(key), []byte(fmt.Sprintf("value-%d", i))); err != nil {
			fmt.Println(err)
			return
		}
	}

	if err = store.Remove([]byte("hello")); err != nil {
		fmt.Println(err)
		return
	}

	it := store.Iterator()
	for it.Next() {
		value, err := it.Value()
		if err != nil {
			fmt.Println(err)
			continue
		}
		fmt.Printf("%s => %s\n", it.Key(), value)
	}

	if err = store.Compact(); err != nil {
		fmt.Println(err)
		return
	}

	stats := store.Stats()
	fmt.Printf("keys: %d, data files: %d, on disk: %d bytes\n",
		stats.TotalActiveEntries, stats.TotalDataFiles, stats.SizeOfAllDataFiles)
}
