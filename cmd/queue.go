/*
Copyright 2024 Droptide Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

// queueCommands creates the root command for queue inspection.
func queueCommands(d *droptideInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "inspect pipeline queues",
	}

	cmd.AddCommand(queueStatsCommands(d))
	cmd.AddCommand(queueDeadLettersCommands(d))

	return cmd
}

// queueStatsCommands prints the depth of every stage topic alongside the
// product counts per status, the quickest read on where the pipeline is
// backed up.
func queueStatsCommands(d *droptideInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "show queue depths and product status counts",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()

			fmt.Println("Stage topics:")
			topics := append(d.cnf.StageTopics(), d.cnf.Queue.DeadLetterTopic)
			for _, topic := range topics {
				depth, err := d.droptide.Queue().Depth(ctx, topic)
				if err != nil {
					log.Printf("Error reading depth of %s: %v", topic, err)
					continue
				}
				fmt.Printf("  %-30s %d\n", topic, depth)
			}

			counts, err := d.droptide.Datasource().CountProductsByStatus(ctx)
			if err != nil {
				log.Printf("Error counting products: %v", err)
				return
			}
			fmt.Println("Products by status:")
			for status, count := range counts {
				fmt.Printf("  %-30s %d\n", status, count)
			}
		},
	}

	return cmd
}

// queueDeadLettersCommands lists terminally failed jobs from the dead-letter
// topic without consuming them.
func queueDeadLettersCommands(d *droptideInstance) *cobra.Command {
	var limit int64

	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "list dead-lettered pipeline jobs",
		Run: func(cmd *cobra.Command, args []string) {
			records, err := d.droptide.Queue().DeadLetters(cmd.Context(), d.cnf.Queue.DeadLetterTopic, limit)
			if err != nil {
				log.Printf("Error reading dead letters: %v", err)
				return
			}
			if len(records) == 0 {
				fmt.Println("No dead-lettered jobs.")
				return
			}
			for _, record := range records {
				fmt.Printf("  %s  stage=%s  at=%s  error=%s\n",
					record.ProductID, record.Stage, record.OccurredAt.Format("2006-01-02 15:04:05"), record.Error)
			}
		},
	}

	cmd.Flags().Int64Var(&limit, "limit", 50, "maximum number of records to list")

	return cmd
}
