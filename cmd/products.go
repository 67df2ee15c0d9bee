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

	"github.com/droptide/droptide/model"
	"github.com/spf13/cobra"
)

// productCommands creates the root command for product operations.
func productCommands(d *droptideInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "products",
		Short: "manage pipeline products",
	}

	cmd.AddCommand(productAddCommands(d))
	cmd.AddCommand(productRepublishCommands(d))
	cmd.AddCommand(productLogsCommands(d))

	return cmd
}

// productAddCommands submits a detected product into the pipeline by hand.
// The usual entry point is the trend scanner feeding SubmitProduct directly;
// this command exists for seeding and manual testing.
func productAddCommands(d *droptideInstance) *cobra.Command {
	var title, sourceURL, description string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "submit a detected product into the pipeline",
		Run: func(cmd *cobra.Command, args []string) {
			product, err := d.droptide.SubmitProduct(cmd.Context(), &model.Product{
				Title:       title,
				SourceURL:   sourceURL,
				Description: description,
			})
			if err != nil {
				log.Printf("Error submitting product: %v", err)
				return
			}
			fmt.Printf("Submitted product %s\n", product.ProductID)
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "product title")
	cmd.Flags().StringVar(&sourceURL, "source-url", "", "where the product was detected")
	cmd.Flags().StringVar(&description, "description", "", "product description")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("source-url")

	return cmd
}

// productRepublishCommands re-drives publishing for products parked at
// READY_TO_LIST after a failed catalog call.
func productRepublishCommands(d *droptideInstance) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "republish",
		Short: "retry publishing for products stuck at READY_TO_LIST",
		Run: func(cmd *cobra.Command, args []string) {
			listed, err := d.droptide.RepublishParked(cmd.Context(), limit)
			if err != nil {
				log.Printf("Error re-driving publish: %v", err)
				return
			}
			fmt.Printf("Listed %d product(s)\n", listed)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of parked products to publish")

	return cmd
}

// productLogsCommands prints the audit trail for one product.
func productLogsCommands(d *droptideInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs <product-id>",
		Short: "show the audit trail of a product",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			logs, err := d.droptide.Datasource().GetAuditLogs(cmd.Context(), args[0])
			if err != nil {
				log.Printf("Error reading audit logs: %v", err)
				return
			}
			if len(logs) == 0 {
				fmt.Println("No audit entries.")
				return
			}
			for _, entry := range logs {
				fmt.Printf("  %s  %-10s %-10s %s\n",
					entry.CreatedAt.Format("2006-01-02 15:04:05"), entry.Agent, entry.Decision, entry.Reason)
			}
		},
	}

	return cmd
}
