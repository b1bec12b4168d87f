package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/omochice/vetchat/internal/rooms"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "Manage room memberships",
}

var roomsListCmd = &cobra.Command{
	Use:   "list [filter]",
	Short: "List the rooms you belong to",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, registry, err := newRegistry()
		if err != nil {
			return err
		}
		if _, err := registry.Load(cmd.Context(), cfg.Identity); err != nil {
			return err
		}
		var filter string
		if len(args) == 1 {
			filter = args[0]
		}
		out := &console{out: os.Stdout, identity: cfg.Identity}
		out.header("Rooms for %s", cfg.Identity)
		out.list(roomNames(registry.Filter(filter)))
		return nil
	},
}

var roomsCreateCmd = &cobra.Command{
	Use:   "create <room>",
	Short: "Create a room and become its first member",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, registry, err := newRegistry()
		if err != nil {
			return err
		}
		room, err := registry.Create(cmd.Context(), args[0], cfg.Identity)
		if err != nil {
			return err
		}
		fmt.Printf("Created %s\n", room.Name())
		return nil
	},
}

var roomsJoinCmd = &cobra.Command{
	Use:   "join <room>",
	Short: "Join an existing room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, registry, err := newRegistry()
		if err != nil {
			return err
		}
		room, err := registry.Join(cmd.Context(), args[0], cfg.Identity)
		if err != nil {
			return err
		}
		fmt.Printf("Joined %s\n", room.Name())
		return nil
	},
}

var roomsLeaveCmd = &cobra.Command{
	Use:   "leave <room>",
	Short: "Leave a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, registry, err := newRegistry()
		if err != nil {
			return err
		}
		if err := registry.Leave(cmd.Context(), args[0], cfg.Identity); err != nil {
			return err
		}
		fmt.Printf("Left %s\n", args[0])
		return nil
	},
}

var roomsMembersCmd = &cobra.Command{
	Use:   "members <room>",
	Short: "List the members of a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, registry, err := newRegistry()
		if err != nil {
			return err
		}
		members, err := registry.Members(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := &console{out: os.Stdout, identity: cfg.Identity}
		out.header("Members of %s", args[0])
		out.list(members)
		return nil
	},
}

func init() {
	roomsCmd.AddCommand(roomsListCmd, roomsCreateCmd, roomsJoinCmd, roomsLeaveCmd, roomsMembersCmd)
	rootCmd.AddCommand(roomsCmd)
}

func roomNames(list []rooms.Room) []string {
	names := make([]string, 0, len(list))
	for _, r := range list {
		names = append(names, r.Name())
	}
	return names
}
