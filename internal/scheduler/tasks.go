package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskOrderFollowUp = "orders.followup"

const TaskOrderReminder = "orders.reminder"

type OrderFollowUpPayload struct {
	OrderID string `json:"orderId"`
}

type OrderReminderPayload struct {
	OrderID string `json:"orderId"`
}

func NewOrderFollowUpTask(payload OrderFollowUpPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrderFollowUp, data), nil
}

func ParseOrderFollowUpPayload(task *asynq.Task) (OrderFollowUpPayload, error) {
	var payload OrderFollowUpPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return OrderFollowUpPayload{}, err
	}
	return payload, nil
}

func NewOrderReminderTask(payload OrderReminderPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrderReminder, data), nil
}

func ParseOrderReminderPayload(task *asynq.Task) (OrderReminderPayload, error) {
	var payload OrderReminderPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return OrderReminderPayload{}, err
	}
	return payload, nil
}
